// Package transcript validates and deduplicates the text the speech session
// produces: repeated self-introductions, voicemail prompts, echo fragments,
// and user-transcript/reply pairs whose key terms disagree.
//
// The validator holds only transient per-call state and is driven from the
// bridge's single event loop, so it does no locking of its own.
package transcript

import (
	"strings"
	"time"
)

const (
	// duplicateSimilarity is the blended-similarity score above which a new
	// reply counts as a duplicate of the previous one.
	duplicateSimilarity = 0.6

	// duplicatePrefixWords is the identical-prefix length that marks a
	// duplicate regardless of overall similarity.
	duplicatePrefixWords = 10

	// minWordsDuringResponse is the shortest transcript accepted while the
	// bridge is speaking; shorter fragments are dominated by echo
	// mis-transcription.
	minWordsDuringResponse = 4

	// crossCheckMinKeyTerms is the minimum number of content words each side
	// needs before the accuracy cross-check is meaningful.
	crossCheckMinKeyTerms = 3

	// defaultPairTTL bounds how long resolved transcript/reply pairs are
	// kept for diagnostics.
	defaultPairTTL = 2 * time.Minute
)

// ResolvedPair is a (user transcript, AI reply) pair kept transiently for
// the accuracy cross-check and duplicate detection.
type ResolvedPair struct {
	UserText   string
	ReplyText  string
	Flagged    bool
	Reason     string
	ResolvedAt time.Time
}

// Validator filters transcripts and replies for one call.
type Validator struct {
	lastReply string
	pairs     []ResolvedPair
	pairTTL   time.Duration

	now func() time.Time
}

// NewValidator creates a validator with the default pair TTL.
func NewValidator() *Validator {
	return &Validator{
		pairTTL: defaultPairTTL,
		now:     time.Now,
	}
}

// Similarity scores two utterances in [0, 1]: Jaccard similarity on word
// sets weighted 70%, blended 30% with length-ratio similarity.
func Similarity(a, b string) float64 {
	wa := strings.Fields(normalizeText(a))
	wb := strings.Fields(normalizeText(b))
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(wa))
	for _, w := range wa {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(wb))
	for _, w := range wb {
		setB[w] = struct{}{}
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	jaccard := float64(intersection) / float64(union)

	shorter, longer := len(wa), len(wb)
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	lengthRatio := float64(shorter) / float64(longer)

	return 0.7*jaccard + 0.3*lengthRatio
}

// IsDuplicateReply reports whether a new AI utterance repeats the previous
// one — the repeated-self-introduction pattern. The caller discards the
// duplicate.
func (v *Validator) IsDuplicateReply(reply string) bool {
	if v.lastReply == "" {
		return false
	}
	if Similarity(reply, v.lastReply) > duplicateSimilarity {
		return true
	}

	wa := strings.Fields(normalizeText(reply))
	wb := strings.Fields(normalizeText(v.lastReply))
	if len(wa) < duplicatePrefixWords || len(wb) < duplicatePrefixWords {
		return false
	}
	for i := 0; i < duplicatePrefixWords; i++ {
		if wa[i] != wb[i] {
			return false
		}
	}
	return true
}

// IsNoise reports whether a user transcript matches known non-conversational
// patterns (voicemail greetings, system prompts) and should be discarded.
func (v *Validator) IsNoise(text string) bool {
	return IsVoicemailPrompt(text)
}

// RejectDuringResponse reports whether a transcript arriving while the
// bridge is speaking should be dropped as an echo fragment: shorter than
// four words and not an explicit interruption.
func (v *Validator) RejectDuringResponse(text string) bool {
	if IsInterruptionPhrase(text) {
		return false
	}
	return wordCount(text) < minWordsDuringResponse
}

// ResolveReply records a completed reply, runs the accuracy cross-check
// against the user transcript that triggered it, and returns the resolved
// pair. A flagged pair documents a probable transcription inaccuracy; it
// never changes behavior.
func (v *Validator) ResolveReply(userText, replyText string) ResolvedPair {
	pair := ResolvedPair{
		UserText:   userText,
		ReplyText:  replyText,
		ResolvedAt: v.now(),
	}
	if userText != "" && replyText != "" {
		pair.Flagged, pair.Reason = crossCheck(userText, replyText)
	}

	v.lastReply = replyText
	v.prune()
	v.pairs = append(v.pairs, pair)
	return pair
}

// LastReply returns the most recently resolved AI reply text.
func (v *Validator) LastReply() string {
	return v.lastReply
}

// FlaggedPairs returns the resolved pairs flagged by the accuracy
// cross-check that are still within the TTL.
func (v *Validator) FlaggedPairs() []ResolvedPair {
	v.prune()
	var out []ResolvedPair
	for _, p := range v.pairs {
		if p.Flagged {
			out = append(out, p)
		}
	}
	return out
}

func (v *Validator) prune() {
	cutoff := v.now().Add(-v.pairTTL)
	kept := v.pairs[:0]
	for _, p := range v.pairs {
		if p.ResolvedAt.After(cutoff) {
			kept = append(kept, p)
		}
	}
	v.pairs = kept
}

// crossCheck compares key terms between the user transcript and the AI's
// reply. When both sides carry enough content words but share none, the
// reply likely answered something other than what was transcribed.
func crossCheck(userText, replyText string) (flagged bool, reason string) {
	userKeys := keyTerms(userText)
	replyKeys := keyTerms(replyText)
	if len(userKeys) < crossCheckMinKeyTerms || len(replyKeys) < crossCheckMinKeyTerms {
		return false, ""
	}
	for w := range userKeys {
		if _, ok := replyKeys[w]; ok {
			return false, ""
		}
	}
	return true, "reply shares no key terms with transcript"
}

// stopwords are high-frequency function words excluded from key terms.
var stopwords = map[string]struct{}{
	"that": {}, "this": {}, "with": {}, "have": {}, "what": {}, "your": {},
	"about": {}, "would": {}, "could": {}, "should": {}, "there": {},
	"their": {}, "they": {}, "them": {}, "then": {}, "than": {}, "will": {},
	"just": {}, "like": {}, "know": {}, "want": {}, "need": {}, "from": {},
	"think": {}, "really": {}, "right": {}, "well": {}, "okay": {},
	"yeah": {}, "please": {}, "thank": {}, "thanks": {}, "hello": {},
	"very": {}, "some": {}, "more": {}, "here": {}, "when": {}, "where": {},
	"which": {}, "because": {}, "been": {}, "being": {}, "were": {},
	"does": {}, "doing": {}, "said": {}, "also": {}, "into": {}, "over": {},
	"only": {}, "much": {}, "many": {}, "most": {}, "other": {},
	"after": {}, "before": {}, "again": {}, "while": {}, "these": {},
	"those": {}, "such": {}, "both": {}, "each": {}, "same": {},
	"today": {}, "going": {}, "sure": {}, "help": {}, "call": {},
	"calling": {}, "speak": {}, "speaking": {}, "sorry": {},
}

// keyTerms extracts the content words (length >= 4, non-stopword) from an
// utterance.
func keyTerms(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(normalizeText(s)) {
		if len(w) < 4 {
			continue
		}
		if _, ok := stopwords[w]; ok {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}
