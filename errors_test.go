package patrowl

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "ErrFindingNotFound", err: ErrFindingNotFound, want: "finding not found"},
		{name: "ErrRawFindingNotFound", err: ErrRawFindingNotFound, want: "raw finding not found"},
		{name: "ErrScanNotFound", err: ErrScanNotFound, want: "scan not found"},
		{name: "ErrAssetNotFound", err: ErrAssetNotFound, want: "asset not found"},
		{name: "ErrInvalidForm", err: ErrInvalidForm, want: "invalid form"},
		{name: "ErrUnsupportedEngine", err: ErrUnsupportedEngine, want: "unsupported engine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("error message = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "basic error",
			err:  &Error{Op: "store.GetFinding", Kind: KindNotFound, Err: ErrFindingNotFound},
			want: "patrowl: store.GetFinding (not_found): finding not found",
		},
		{
			name: "error with context",
			err: &Error{
				Op:      "tracker.BuildTimeline",
				Kind:    KindNotFound,
				Err:     ErrScanNotFound,
				Context: map[string]any{"scan_id": "s1"},
			},
			want: "patrowl: tracker.BuildTimeline (not_found): scan not found [context:",
		},
		{
			name: "error without underlying error",
			err:  &Error{Op: "finding.Form.Validate", Kind: KindValidation},
			want: "patrowl: finding.Form.Validate: validation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); !strings.Contains(got, tt.want) {
				t.Errorf("Error() = %q, want to contain %q", got, tt.want)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	base := &Error{Op: "store.GetFinding", Kind: KindNotFound, Err: ErrFindingNotFound}

	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{name: "matches sentinel", err: base, target: ErrFindingNotFound, want: true},
		{name: "matches wrapped sentinel", err: fmt.Errorf("load: %w", base), target: ErrFindingNotFound, want: true},
		{name: "matches by kind", err: base, target: &Error{Kind: KindNotFound}, want: true},
		{name: "matches by kind and op", err: base, target: &Error{Op: "store.GetFinding", Kind: KindNotFound}, want: true},
		{name: "different op", err: base, target: &Error{Op: "store.GetScan", Kind: KindNotFound}, want: false},
		{name: "different kind", err: base, target: &Error{Kind: KindValidation}, want: false},
		{name: "different sentinel", err: base, target: ErrAssetNotFound, want: false},
		{name: "nil target", err: base, target: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithContextDoesNotMutate(t *testing.T) {
	original := NewNotFoundError("store.GetAsset", ErrAssetNotFound)
	withCtx := original.WithContext(map[string]any{"asset_id": "a1"})
	more := withCtx.WithContext(map[string]any{"owner": "u1"})

	if original.Context != nil {
		t.Error("original error Context was modified")
	}
	if len(withCtx.Context) != 1 {
		t.Errorf("withCtx has %d context keys, want 1", len(withCtx.Context))
	}
	if more.Context["asset_id"] != "a1" || more.Context["owner"] != "u1" {
		t.Errorf("merged context = %v", more.Context)
	}
}

func TestKindHelpers(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantKind       string
		wantNotFound   bool
		wantValidation bool
	}{
		{name: "not found", err: NewNotFoundError("op", ErrFindingNotFound), wantKind: KindNotFound, wantNotFound: true},
		{name: "wrapped validation", err: fmt.Errorf("x: %w", NewValidationError("op", ErrInvalidForm)), wantKind: KindValidation, wantValidation: true},
		{name: "storage", err: NewStorageError("op", errors.New("boom")), wantKind: KindStorage},
		{name: "queue", err: NewQueueError("op", errors.New("boom")), wantKind: KindQueue},
		{name: "plain error", err: errors.New("plain"), wantKind: KindInternal},
		{name: "nil", err: nil, wantKind: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.wantKind {
				t.Errorf("KindOf() = %q, want %q", got, tt.wantKind)
			}
			if got := IsNotFound(tt.err); got != tt.wantNotFound {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.wantNotFound)
			}
			if got := IsValidation(tt.err); got != tt.wantValidation {
				t.Errorf("IsValidation() = %v, want %v", got, tt.wantValidation)
			}
		})
	}
}

type failingCloser struct{ closed bool }

func (f *failingCloser) Close() error {
	f.closed = true
	return errors.New("close failed")
}

func TestCloseWithLog(t *testing.T) {
	c := &failingCloser{}
	CloseWithLog(c, nil, "test resource")
	if !c.closed {
		t.Error("Close() was not called")
	}

	// nil closer is a no-op
	CloseWithLog(nil, nil, "nothing")
}
