package adminrpc

import (
	"context"
	"fmt"

	"github.com/flowbase/flowbase/pkg/controller"
	"github.com/flowbase/flowbase/pkg/flowtype"
)

// ControllerImpl adapts a *controller.Controller to AdminServer, the
// concrete wiring cmd/flowbase's admin listener runs.
type ControllerImpl struct {
	Ctrl *controller.Controller
}

func (s ControllerImpl) ExtendRecipe(ctx context.Context, req *ExtendRecipeRequest) (*ExtendRecipeResponse, error) {
	if err := s.Ctrl.ExtendRecipe(req.DDL, nil); err != nil {
		return nil, err
	}
	return &ExtendRecipeResponse{}, nil
}

func (s ControllerImpl) TableWrite(ctx context.Context, req *TableWriteRequest) (*TableWriteResponse, error) {
	table, err := s.Ctrl.Table(req.Table)
	if err != nil {
		return nil, err
	}
	switch req.Op {
	case OpInsert:
		err = table.Insert(req.Row)
	case OpDelete:
		err = table.Delete(req.Row)
	case OpInsertOrUpdate:
		// The wire op carries only the replacement row, so this never
		// retracts a prior value — equivalent to Insert unless the
		// caller already deleted the old row themselves.
		err = table.InsertOrUpdate(nil, req.Row)
	default:
		err = fmt.Errorf("adminrpc: unknown write op %d", req.Op)
	}
	if err != nil {
		return nil, err
	}
	return &TableWriteResponse{}, nil
}

func (s ControllerImpl) ViewLookup(ctx context.Context, req *ViewLookupRequest) (*ViewLookupResponse, error) {
	view, err := s.Ctrl.View(req.View)
	if err != nil {
		return nil, err
	}
	var rows []flowtype.Key
	var found bool
	if req.Range {
		rows, found, err = view.Range(ctx, req.Lo, req.Hi, req.BlockOnMiss)
	} else {
		rows, found, err = view.Lookup(ctx, req.Key, req.BlockOnMiss)
	}
	if err != nil {
		return nil, err
	}
	return &ViewLookupResponse{Rows: rows, Found: found}, nil
}
