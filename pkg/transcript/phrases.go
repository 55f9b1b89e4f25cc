// phrases.go holds the fixed phrase sets the bridge matches against:
// explicit interruptions, call-opening greetings, short polite tails, and
// the voicemail/system prompts that can never belong to a live participant.

package transcript

import "strings"

// interruptionPhrases are the only utterances allowed to cancel an in-flight
// reply. The set is deliberately small and unambiguous.
var interruptionPhrases = []string{
	"wait",
	"stop",
	"hold on",
	"hang on",
	"one moment",
	"one second",
	"excuse me",
	"be quiet",
	"stop talking",
	"wait a minute",
	"wait a second",
}

// greetingPhrases identify a human answering the phone. They bypass the
// pre-response echo guard because they are time-critical.
var greetingPhrases = []string{
	"hello",
	"hi",
	"hey",
	"good morning",
	"good afternoon",
	"good evening",
	"how can i help",
	"how may i help",
	"thank you for calling",
	"this is",
	"speaking",
}

// politePhrases are short generic tails ("thanks", "okay") that, heard right
// after the bridge finishes speaking, are classic self-echo symptoms.
var politePhrases = []string{
	"thank you",
	"thanks",
	"okay",
	"ok",
	"all right",
	"alright",
	"sure",
	"yes",
	"yeah",
	"no problem",
	"you're welcome",
	"uh huh",
	"mm hmm",
	"bye",
	"goodbye",
}

// closingPhrases mark a courtesy wind-down. Detecting one sets the closing
// flag but never terminates the call by itself.
var closingPhrases = []string{
	"goodbye",
	"bye bye",
	"have a great day",
	"have a good day",
	"have a nice day",
	"talk to you later",
	"take care",
}

// voicemailPatterns match machine greetings and system prompts.
var voicemailPatterns = []string{
	"please leave a message",
	"leave a message after",
	"leave your message",
	"record your message",
	"after the beep",
	"after the tone",
	"at the tone",
	"is not available",
	"is unavailable",
	"cannot take your call",
	"can't take your call",
	"has been forwarded",
	"mailbox is full",
	"voice mail",
	"voicemail",
	"press pound",
	"when you have finished recording",
	"to leave a callback number",
}

// normalizeText lowercases, strips punctuation and collapses whitespace so
// phrase matching is insensitive to transcription formatting.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// wordCount returns the number of words after normalization.
func wordCount(s string) int {
	n := normalizeText(s)
	if n == "" {
		return 0
	}
	return len(strings.Fields(n))
}

// matchesPhrase reports whether normalized text equals the phrase or starts
// with it as a whole-word prefix.
func matchesPhrase(norm, phrase string) bool {
	return norm == phrase || strings.HasPrefix(norm, phrase+" ")
}

// IsInterruptionPhrase reports whether the utterance is an explicit request
// to stop talking. Only short utterances qualify; "stop" buried in a long
// sentence is ordinary speech.
func IsInterruptionPhrase(s string) bool {
	norm := normalizeText(s)
	if norm == "" || len(strings.Fields(norm)) > 4 {
		return false
	}
	for _, p := range interruptionPhrases {
		if matchesPhrase(norm, p) {
			return true
		}
	}
	return false
}

// IsGreetingPhrase reports whether the utterance opens like a human
// answering the phone.
func IsGreetingPhrase(s string) bool {
	norm := normalizeText(s)
	if norm == "" {
		return false
	}
	for _, p := range greetingPhrases {
		if matchesPhrase(norm, p) {
			return true
		}
	}
	return false
}

// IsPolitePhrase reports whether the utterance is a short generic
// acknowledgement.
func IsPolitePhrase(s string) bool {
	norm := normalizeText(s)
	if norm == "" || len(strings.Fields(norm)) > 3 {
		return false
	}
	for _, p := range politePhrases {
		if matchesPhrase(norm, p) {
			return true
		}
	}
	return false
}

// IsClosingPhrase reports whether the utterance is a courtesy wind-down.
func IsClosingPhrase(s string) bool {
	norm := normalizeText(s)
	if norm == "" {
		return false
	}
	for _, p := range closingPhrases {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}

// IsVoicemailPrompt reports whether the transcript looks like a machine
// greeting or system prompt rather than a live participant.
func IsVoicemailPrompt(s string) bool {
	norm := normalizeText(s)
	if norm == "" {
		return false
	}
	for _, p := range voicemailPatterns {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}
