package extract

import "regexp"

var (
	cancelRe = regexp.MustCompile(`\b(cancel|start over|start again|restart|begin again|new booking|never ?mind|forget it|(stop|quit) (booking|this|the booking|my booking))\b`)

	// stop, quit and exit cancel only as the whole message
	cancelShortRe = regexp.MustCompile(`^(stop|quit|exit)( it| this| now| please)?\.?$`)

	// idioms that contain "no" but mean yes
	noIdiomRe = regexp.MustCompile(`\bno (problem|problemo|worries|worry|rush|prob|probs)\b`)

	// a message that opens with one of these is an answer of yes
	leadingYesRe = regexp.MustCompile(`^(yes|yeah|yea|yep|yup|sure|absolutely|definitely)\b`)

	rejectRe = regexp.MustCompile(`\b(no|nope|nah|neither|none|different (time|day)|another (time|day)|other (times?|days?|options?)|doesn'?t work|does not work|don'?t work|won'?t work|not work|can'?t make (it|that)|cannot make (it|that)|something else|not that( one)?|wrong|incorrect)\b`)

	confirmRe = regexp.MustCompile(`\b(yes|yeah|yea|yep|yup|sure|ok|okay|confirm|confirmed|correct|perfect|great|sounds good|that works|works for me|that's fine|that is fine|book it|do it|absolutely|definitely|please do|let's do it|go ahead|no problem|no worries)\b`)

	// single-letter replies only count when they are the whole message
	confirmShortRe = regexp.MustCompile(`^(y|k|kk|ya|right|that's right)\.?$`)

	intentRe = regexp.MustCompile(`\b(book|booking|appointment|appt|schedule|reserve|reservation|available|availability|opening|openings|slots?|come in|get in|make an)\b`)
)

func isCancellation(text string) bool {
	return cancelRe.MatchString(text) || cancelShortRe.MatchString(text)
}

func recognizeRejection(_ *Extractor, s *scan) []Match {
	if leadingYesRe.MatchString(s.text) {
		return nil
	}
	if rejectRe.MatchString(noIdiomRe.ReplaceAllString(s.text, " ")) {
		s.rejected = true
		return []Match{Rejection{}}
	}
	return nil
}

func recognizeConfirmation(_ *Extractor, s *scan) []Match {
	if s.rejected {
		return nil
	}
	if confirmRe.MatchString(s.text) || confirmShortRe.MatchString(s.text) {
		return []Match{Confirmation{}}
	}
	return nil
}

func recognizeIntent(_ *Extractor, s *scan) []Match {
	if intentRe.MatchString(s.text) {
		return []Match{BookingIntent{}}
	}
	return nil
}
