package rag

import (
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// NoAnswerSentence is the literal the model is instructed to emit when the
// sources do not contain the answer. Golden-output tests depend on the
// template text staying byte-for-byte stable.
const NoAnswerSentence = "I cannot answer this question based on the provided documents."

const systemPrompt = `You are a precise assistant that answers questions using only the provided sources.

Rules:
- Answer using only information found in the sources below.
- If the sources do not contain the answer, reply exactly: "` + NoAnswerSentence + `"
- Do not restate the question.
- Format the answer as a short statement followed by a short bulleted rationale.`

const userPromptFormat = `Sources:

%s

Question: %s`

// BuildMessages produces the fixed two-message prompt: a system message
// with the answering rules and a user message carrying the source block and
// the verbatim question.
func BuildMessages(contextBlock, question string) []*ai.Message {
	return []*ai.Message{
		ai.NewSystemTextMessage(systemPrompt),
		ai.NewUserTextMessage(fmt.Sprintf(userPromptFormat, contextBlock, question)),
	}
}
