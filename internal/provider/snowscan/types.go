package snowscan

// Envelope is the etherscan-style response wrapper. Status is "1" on
// success; failures and empty results both arrive as status "0" with the
// detail in Message/Result.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  any    `json:"result"`
}

type holderEntry struct {
	TokenHolderAddress  string `json:"TokenHolderAddress"`
	TokenHolderQuantity string `json:"TokenHolderQuantity"`
}
