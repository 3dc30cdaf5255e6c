package models

// Operation is the direction of a trade, seen from the authenticated participant.
// "buy" moves energy from the caller to the counterparty, "sell" the reverse.
type Operation string

const (
	OperationBuy  Operation = "buy"
	OperationSell Operation = "sell"
)

// Participant represents a registered market participant
type Participant struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	PasswordHash  string  `json:"-"`
	EnergyBalance float64 `json:"energy_balance"`
}

// Transaction represents an executed energy trade
type Transaction struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Timestamp uint64    `json:"timestamp"` // logical clock, nanoseconds
	BuyerID   string    `json:"buyer_id"`
	SellerID  string    `json:"seller_id"`
	Operation Operation `json:"operation"`
}

// Involves reports whether the participant is on either side of the transaction
func (t Transaction) Involves(participantID string) bool {
	return t.BuyerID == participantID || t.SellerID == participantID
}

// Market is the market-wide aggregate view
type Market struct {
	TotalEnergyTraded float64       `json:"total_energy_traded"`
	Transactions      []Transaction `json:"transactions"`
	Participants      []Participant `json:"participants"`
}
