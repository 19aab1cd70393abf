package access

// ActivationResult is the outcome of a successful token activation.
type ActivationResult struct {
	AccessGranted bool   `json:"access_granted"`
	OrderID       string `json:"order_id"`
	Plan          string `json:"plan"`
	Status        string `json:"status"`
}

// AccessStatus reports a Telegram user's current access. Fields other than
// IsPaid are empty for unknown users.
type AccessStatus struct {
	IsPaid       bool   `json:"is_paid"`
	OrderID      string `json:"order_id,omitempty"`
	Plan         string `json:"plan,omitempty"`
	AccessStatus string `json:"access_status,omitempty"`
}

// RestoreResult is the outcome of a confirmed restore.
type RestoreResult struct {
	Status         string `json:"status"`
	ActivationLink string `json:"activation_link,omitempty"`
	AccessGranted  bool   `json:"access_granted"`
}
