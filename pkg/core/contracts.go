package core

import "github.com/ajitpratap0/langhost/pkg/protocol"

// Endpoint names, shared by the HTTP routes and the protocol adapter.
const (
	EndpointUpdateBuffer   = "updatebuffer"
	EndpointChangeBuffer   = "changebuffer"
	EndpointOpen           = "open"
	EndpointClose          = "close"
	EndpointGotoDefinition = "gotodefinition"
	EndpointDiagnostics    = "diagnostics"
)

// Request documents are addressed by URI and language id.
type documentRequest struct {
	FileName string `json:"FileName"`
	Language string `json:"LanguageId,omitempty"`
}

func (d documentRequest) DocumentURI() string { return d.FileName }
func (d documentRequest) LanguageID() string  { return d.Language }

// UpdateBufferRequest replaces the whole text of a buffer.
type UpdateBufferRequest struct {
	documentRequest
	Version int    `json:"Version"`
	Buffer  string `json:"Buffer"`
}

// ChangeBufferRequest applies incremental edits to a buffer.
type ChangeBufferRequest struct {
	documentRequest
	Version int                                       `json:"Version"`
	Changes []protocol.TextDocumentContentChangeEvent `json:"Changes"`
}

// FileOpenRequest announces a document opened in the editor.
type FileOpenRequest struct {
	documentRequest
	Version int    `json:"Version"`
	Buffer  string `json:"Buffer"`
}

// FileCloseRequest announces a closed document.
type FileCloseRequest struct {
	documentRequest
}

// BufferResponse acknowledges a buffer operation.
type BufferResponse struct {
	FileName string `json:"FileName"`
	Version  int    `json:"Version"`
	Open     bool   `json:"Open"`
}

// GotoDefinitionRequest asks for the declaration of the symbol under a
// zero based position.
type GotoDefinitionRequest struct {
	documentRequest
	Line   int `json:"Line"`
	Column int `json:"Column"`
}

// GotoDefinitionResponse lists candidate declarations.
type GotoDefinitionResponse struct {
	Symbol      string              `json:"Symbol,omitempty"`
	Definitions []protocol.Location `json:"Definitions"`
}

// DiagnosticsRequest asks for diagnostics of one document, or of every open
// document when FileName is empty. It is not document scoped so that
// diagnostics providers for every language answer it.
type DiagnosticsRequest struct {
	FileName string `json:"FileName,omitempty"`
	// IncludeWorkspace also checks unopened files under the workspace root.
	IncludeWorkspace bool `json:"IncludeWorkspace,omitempty"`
}

// DiagnosticsResponse groups diagnostics per document.
type DiagnosticsResponse struct {
	Files []protocol.PublishDiagnosticsParams `json:"Files"`
}

// NewUpdateBuffer builds an UpdateBufferRequest.
func NewUpdateBuffer(uri, languageID string, version int, text string) UpdateBufferRequest {
	return UpdateBufferRequest{documentRequest{uri, languageID}, version, text}
}

// NewChangeBuffer builds a ChangeBufferRequest.
func NewChangeBuffer(uri, languageID string, version int, changes []protocol.TextDocumentContentChangeEvent) ChangeBufferRequest {
	return ChangeBufferRequest{documentRequest{uri, languageID}, version, changes}
}

// NewFileOpen builds a FileOpenRequest.
func NewFileOpen(uri, languageID string, version int, text string) FileOpenRequest {
	return FileOpenRequest{documentRequest{uri, languageID}, version, text}
}

// NewFileClose builds a FileCloseRequest.
func NewFileClose(uri, languageID string) FileCloseRequest {
	return FileCloseRequest{documentRequest{uri, languageID}}
}

// NewGotoDefinition builds a GotoDefinitionRequest.
func NewGotoDefinition(uri, languageID string, line, column int) GotoDefinitionRequest {
	return GotoDefinitionRequest{documentRequest{uri, languageID}, line, column}
}
