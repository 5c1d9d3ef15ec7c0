package creative

// Subscore names in report order.
const (
	SubscoreHook                = "hook"
	SubscoreClarity             = "clarity"
	SubscoreProof               = "proof"
	SubscoreDifferentiation     = "differentiation"
	SubscoreConversionReadiness = "conversion_readiness"
)

// SubscoreNames is the fixed order used by every summary.
var SubscoreNames = []string{
	SubscoreHook,
	SubscoreClarity,
	SubscoreProof,
	SubscoreDifferentiation,
	SubscoreConversionReadiness,
}

// Subscores are the five category scores whose sum is the overall score.
type Subscores struct {
	Hook                int `json:"hook"`
	Clarity             int `json:"clarity"`
	Proof               int `json:"proof"`
	Differentiation     int `json:"differentiation"`
	ConversionReadiness int `json:"conversion_readiness"`
}

// Total is the overall score.
func (s Subscores) Total() int {
	return s.Hook + s.Clarity + s.Proof + s.Differentiation + s.ConversionReadiness
}

// Get returns the named subscore; unknown names return 0.
func (s Subscores) Get(name string) int {
	switch name {
	case SubscoreHook:
		return s.Hook
	case SubscoreClarity:
		return s.Clarity
	case SubscoreProof:
		return s.Proof
	case SubscoreDifferentiation:
		return s.Differentiation
	case SubscoreConversionReadiness:
		return s.ConversionReadiness
	}
	return 0
}
