package models

const (
	// NoContextAnswer is returned without calling the model when retrieval finds nothing.
	NoContextAnswer = "I don't have enough information in the uploaded documents to answer this question."
	// RefusalAnswer is the phrase the model is told to use when the context lacks the answer.
	RefusalAnswer = "I don't have enough information in the uploaded documents."

	ContextSeparator = "\n\n"
	SnippetLength    = 200
	SnippetEllipsis  = "..."
)

var (
	SystemInstruction = "You are a helpful assistant that answers questions strictly based on provided context. Never make up information."

	ContextBlockTemplate = "[From %s]\n%s"

	AnswerPromptTemplate = `You are a helpful assistant that answers questions based ONLY on the provided context.
If the answer cannot be found in the context, you must respond with: "` + RefusalAnswer + `"

Context:
%s

Question: %s

Answer:`
)
