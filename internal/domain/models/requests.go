package models

// Requests for the REST endpoints, bound and validated by pkg/http.

type AssetRequest struct {
	Symbol string `param:"symbol" validate:"required,max=32"`
}

type AssetsRequest struct {
	Symbols string `query:"symbols" validate:"max=512"`
}

type HistoryRequest struct {
	Symbol string `param:"symbol" validate:"required,max=32"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=1000"`
	Since  string `query:"since"`
}

// SymbolError reports one symbol that could not be served in a multi-symbol request.
type SymbolError struct {
	Symbol  string `json:"symbol"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AssetsResponse is the body of GET /api/assets.
type AssetsResponse struct {
	Assets []*AssetData  `json:"assets"`
	Errors []SymbolError `json:"errors,omitempty"`
}

// HistoryResponse is the body of GET /api/assets/:symbol/history.
type HistoryResponse struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}
