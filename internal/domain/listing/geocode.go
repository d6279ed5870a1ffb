package listing

// GeocodeResult is a resolved location for a composite address.
type GeocodeResult struct {
	Coordinates
	FormattedAddress string `json:"formattedAddress,omitempty"`
}
