package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestHostErrorTaxonomy(t *testing.T) {
	cause := stderrors.New("boom")

	tests := []struct {
		name      string
		err       HostError
		wantCode  int
		wantCat   Category
		wantFatal bool
	}{
		{
			name:      "composition failure",
			err:       CompositionFailed("roslyn", cause),
			wantCode:  CodeCompositionFailed,
			wantCat:   CategoryComposition,
			wantFatal: true,
		},
		{
			name:      "module load failure",
			err:       ModuleLoadFailed("cake", cause),
			wantCode:  CodeModuleLoadFailed,
			wantCat:   CategoryComposition,
			wantFatal: true,
		},
		{
			name:      "handler construction",
			err:       HandlerConstructionFailed("core", "Definition", cause),
			wantCode:  CodeHandlerFactory,
			wantCat:   CategoryComposition,
			wantFatal: true,
		},
		{
			name:     "not initialized",
			err:      NotInitialized("textDocument/definition", "Uninitialized"),
			wantCode: CodeServerNotInitialized,
			wantCat:  CategoryOrdering,
		},
		{
			name:     "handler failure",
			err:      HandlerFailed("Definition", cause),
			wantCode: CodeRequestFailed,
			wantCat:  CategoryHandler,
		},
		{
			name:     "parent gone",
			err:      ParentProcessGone(42, cause),
			wantCode: CodeParentGone,
			wantCat:  CategoryLifecycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Code(); got != tt.wantCode {
				t.Errorf("Code() = %v, want %v", got, tt.wantCode)
			}
			if got := tt.err.Category(); got != tt.wantCat {
				t.Errorf("Category() = %v, want %v", got, tt.wantCat)
			}
			if got := tt.err.Fatal(); got != tt.wantFatal {
				t.Errorf("Fatal() = %v, want %v", got, tt.wantFatal)
			}
			if tt.err.Error() == "" {
				t.Error("Error() returned empty string")
			}
		})
	}
}

func TestCompositionErrorNamesModule(t *testing.T) {
	err := ModuleLoadFailed("OmniSharp.Cake", stderrors.New("not found"))

	if !strings.Contains(err.Error(), "OmniSharp.Cake") {
		t.Errorf("error %q does not name the module", err.Error())
	}

	data, ok := err.Data().(*CompositionErrorData)
	if !ok {
		t.Fatalf("Data() = %T, want *CompositionErrorData", err.Data())
	}
	if data.Module != "OmniSharp.Cake" {
		t.Errorf("Module = %q", data.Module)
	}
}

func TestErrorChain(t *testing.T) {
	cause := stderrors.New("disk on fire")
	err := fmt.Errorf("outer: %w", CompositionFailed("core", cause))

	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause through the HostError")
	}
	if !IsCategory(err, CategoryComposition) {
		t.Error("expected IsCategory to unwrap fmt wrapping")
	}
	if got := CodeOf(err); got != CodeCompositionFailed {
		t.Errorf("CodeOf() = %d", got)
	}
	if got := CodeOf(cause); got != CodeInternalError {
		t.Errorf("CodeOf(plain) = %d, want internal", got)
	}
}

func TestHandlerFailedDoesNotDoubleWrap(t *testing.T) {
	inner := HandlerFailed("A", stderrors.New("x"))
	outer := HandlerFailed("B", inner)
	if outer != inner {
		t.Error("handler errors should pass through unchanged")
	}
}

func TestWithContextAndDetail(t *testing.T) {
	err := NotInitialized("shutdown", "Composing").
		WithContext(&Context{Component: "LanguageServer", Method: "shutdown"}).
		WithDetail("first").
		WithDetail("second")

	if err.Context().Component != "LanguageServer" {
		t.Errorf("Component = %q", err.Context().Component)
	}
	if err.Context().Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
	if err.Details() != "first; second" {
		t.Errorf("Details() = %q", err.Details())
	}
}

func TestMarshalJSON(t *testing.T) {
	err := NoHandler("Definition")
	data, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		t.Fatalf("marshal: %v", marshalErr)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["category"] != string(CategoryNotFound) {
		t.Errorf("category = %v", decoded["category"])
	}
	if int(decoded["code"].(float64)) != CodeNoHandler {
		t.Errorf("code = %v", decoded["code"])
	}
}

func TestErrorCodeNames(t *testing.T) {
	if got := GetErrorCodeName(CodeServerNotInitialized); got != "ServerNotInitialized" {
		t.Errorf("GetErrorCodeName() = %q", got)
	}
	if got := GetErrorCodeName(12345); got != "UnknownError" {
		t.Errorf("GetErrorCodeName(unknown) = %q", got)
	}
}
