package constants

// WitnessID identifies one extractor in the closed witness set.
type WitnessID string

const (
	WitnessPrimaryML WitnessID = "primary_ml"
	WitnessOCRLocal  WitnessID = "ocr_local"
	WitnessOCRCloud  WitnessID = "ocr_cloud"
)

// Witnesses is the declaration order, used as the last tie-breaker when picking a winner.
var Witnesses = []WitnessID{WitnessPrimaryML, WitnessOCRLocal, WitnessOCRCloud}

func (w WitnessID) IsValid() bool {
	return w.Order() >= 0
}

// Order returns the declaration index of w, or -1 if w is unknown.
func (w WitnessID) Order() int {
	for i, id := range Witnesses {
		if id == w {
			return i
		}
	}
	return -1
}

// Label is the categorical quality label of a verdict.
type Label string

const (
	LabelAutoAccept Label = "auto_accept"
	LabelFlag       Label = "flag"
	LabelArbitrate  Label = "arbitrate"
	LabelReview     Label = "review"
)

// Labels are ordered from most to least trusted.
var Labels = []Label{LabelAutoAccept, LabelFlag, LabelArbitrate, LabelReview}

func (l Label) IsValid() bool {
	return l.rank() >= 0
}

// AtMost caps l so it is never more trusted than ceiling.
func (l Label) AtMost(ceiling Label) Label {
	if l.rank() < ceiling.rank() {
		return ceiling
	}
	return l
}

// AtLeast raises l so it is never less trusted than floor.
func (l Label) AtLeast(floor Label) Label {
	if l.rank() > floor.rank() {
		return floor
	}
	return l
}

func (l Label) rank() int {
	for i, x := range Labels {
		if x == l {
			return i
		}
	}
	return -1
}
