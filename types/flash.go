package types

// FlashCategory classifies a flash notice for presentation.
type FlashCategory string

const (
	FlashSuccess FlashCategory = "success"
	FlashDanger  FlashCategory = "danger"
	FlashInfo    FlashCategory = "info"
)

// Flash is a one-time notice shown on the next rendered page.
type Flash struct {
	Category FlashCategory `json:"category"`
	Message  string        `json:"message"`
}
