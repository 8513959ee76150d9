package model

// Instrument is a ticker and its bar history, ordered by date ascending.
// It is not modified once loaded.
type Instrument struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Len returns the number of bars.
func (i *Instrument) Len() int {
	return len(i.Bars)
}
