package analysis

import (
	"fmt"
	"strings"
)

// NotMetSentinel is the exact reply for a character with no evidence in scope.
const NotMetSentinel = "We have not met this character yet."

const summaryTemplate = `You are helping a reader keep track of the characters in the book they are reading.
Using ONLY the passages below, write three short paragraphs about %[1]s:
1. A summary of who %[1]s is.
2. Where the reader first met %[1]s, including the page number.
3. What has happened with %[1]s most recently.
Do not use any knowledge of the book beyond these passages.
If the passages contain nothing about %[1]s, reply with exactly this sentence and nothing else:
%[2]s

Passages:
%[3]s`

const firstMentionTemplate = `Below are passages from a book. Each passage starts with its page label, like [Page 12].
On which page is %[1]s first mentioned? Use the lowest page label of a passage that mentions %[1]s.
Reply with exactly one line in the form:
PAGE: <number>
If %[1]s is not mentioned in any passage, reply with exactly:
Not found

Passages:
%[2]s`

const introducedTemplate = `Read the following page from a book. List the names of any characters who are introduced for the first time on this page.
Reply with the names separated by commas and nothing else.
If no new characters are introduced, reply with exactly: None

Page:
%s`

const answerTemplate = `You are a helpful book assistant. The reader is currently on page %[1]d of %[2]d.
Answer the reader's question using only the context below, which comes from pages they have already read.
Never reveal events from later pages. If the context does not answer the question, say so.

Context:
%[3]s

Question: %[4]s`

func summaryPrompt(character, context string) string {
	return fmt.Sprintf(summaryTemplate, character, NotMetSentinel, context)
}

func firstMentionPrompt(character, context string) string {
	return fmt.Sprintf(firstMentionTemplate, character, context)
}

func introducedPrompt(pageText string) string {
	return fmt.Sprintf(introducedTemplate, strings.TrimSpace(pageText))
}

func answerPrompt(currentPage, totalPages int, context, question string) string {
	if context == "" {
		context = "(no passages from the pages read so far)"
	}
	return fmt.Sprintf(answerTemplate, currentPage, totalPages, context, strings.TrimSpace(question))
}
