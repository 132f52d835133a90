package saga

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func step(name string, log *[]string, fail bool) *Step {
	return &Step{
		Name: name,
		Execute: func(ctx context.Context, data *Data) (any, error) {
			if fail {
				return nil, errors.New(name + " exploded")
			}
			*log = append(*log, "exec:"+name)
			return name + "-result", nil
		},
		Compensate: func(ctx context.Context, data *Data) error {
			*log = append(*log, "comp:"+name)
			return nil
		},
	}
}

func TestOrchestrator_AllStepsSucceed(t *testing.T) {
	var log []string
	sctx := NewContext("saga-1",
		step("one", &log, false),
		step("two", &log, false),
		step("three", &log, false),
	)

	o := NewOrchestrator(nil)
	if err := o.Execute(context.Background(), sctx); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if sctx.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", sctx.Status)
	}
	if len(sctx.Completed) != 3 {
		t.Errorf("Completed = %d steps, want 3", len(sctx.Completed))
	}
	want := []string{"exec:one", "exec:two", "exec:three"}
	if strings.Join(log, ",") != strings.Join(want, ",") {
		t.Errorf("execution order = %v, want %v", log, want)
	}
	if sctx.Steps[0].Result != "one-result" {
		t.Errorf("step result = %v, want one-result", sctx.Steps[0].Result)
	}
}

func TestOrchestrator_RollbackReverseOrder(t *testing.T) {
	var log []string
	sctx := NewContext("saga-2",
		step("one", &log, false),
		step("two", &log, false),
		step("boom", &log, true),
	)

	o := NewOrchestrator(nil)
	err := o.Execute(context.Background(), sctx)
	if err == nil {
		t.Fatal("Execute() should fail")
	}

	var sagaErr *Error
	if !errors.As(err, &sagaErr) {
		t.Fatalf("error type = %T, want *saga.Error", err)
	}
	if sagaErr.Step != "boom" {
		t.Errorf("failing step = %q, want boom", sagaErr.Step)
	}
	if sagaErr.Compensation != nil {
		t.Errorf("Compensation = %v, want nil", sagaErr.Compensation)
	}
	if sctx.Status != StatusRolledBack {
		t.Errorf("Status = %q, want rolled_back", sctx.Status)
	}

	want := []string{"exec:one", "exec:two", "comp:two", "comp:one"}
	if strings.Join(log, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", log, want)
	}
}

func TestOrchestrator_CompletedIsPrefix(t *testing.T) {
	var log []string
	steps := []*Step{
		step("a", &log, false),
		step("b", &log, true),
		step("c", &log, false),
	}
	sctx := NewContext("saga-3", steps...)

	o := NewOrchestrator(nil)
	_ = o.Execute(context.Background(), sctx)

	if len(sctx.Completed) != 1 || sctx.Completed[0].Name != "a" {
		t.Errorf("Completed = %v, want prefix [a]", names(sctx.Completed))
	}
}

func TestOrchestrator_StepsWithoutCompensationSkipped(t *testing.T) {
	var log []string
	readOnly := &Step{
		Name: "read",
		Execute: func(ctx context.Context, data *Data) (any, error) {
			log = append(log, "exec:read")
			return nil, nil
		},
		// No compensation: a pure read needs no undo.
	}
	sctx := NewContext("saga-4", step("write", &log, false), readOnly, step("boom", &log, true))

	o := NewOrchestrator(nil)
	_ = o.Execute(context.Background(), sctx)

	want := []string{"exec:write", "exec:read", "comp:write"}
	if strings.Join(log, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", log, want)
	}
}

func TestOrchestrator_RollbackContinuesPastCompensationFailure(t *testing.T) {
	var log []string
	badComp := &Step{
		Name: "middle",
		Execute: func(ctx context.Context, data *Data) (any, error) {
			log = append(log, "exec:middle")
			return nil, nil
		},
		Compensate: func(ctx context.Context, data *Data) error {
			log = append(log, "comp:middle")
			return errors.New("compensation broke")
		},
	}
	sctx := NewContext("saga-5", step("first", &log, false), badComp, step("boom", &log, true))

	o := NewOrchestrator(nil)
	err := o.Execute(context.Background(), sctx)

	var sagaErr *Error
	if !errors.As(err, &sagaErr) {
		t.Fatalf("error type = %T", err)
	}
	// The original error is preserved, not replaced by the
	// compensation failure.
	if sagaErr.Original == nil || !strings.Contains(sagaErr.Original.Error(), "boom") {
		t.Errorf("Original = %v, want the boom error", sagaErr.Original)
	}
	if sagaErr.Compensation == nil {
		t.Error("Compensation should record the failed rollback")
	}

	// first still gets compensated despite middle's failure.
	want := []string{"exec:first", "exec:middle", "comp:middle", "comp:first"}
	if strings.Join(log, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", log, want)
	}
}

func TestData_ExplicitStepState(t *testing.T) {
	sctx := NewContext("saga-6",
		&Step{
			Name: "produce",
			Execute: func(ctx context.Context, data *Data) (any, error) {
				data.Set("asset_url", "blob://x/1")
				return nil, nil
			},
		},
		&Step{
			Name: "consume",
			Execute: func(ctx context.Context, data *Data) (any, error) {
				if data.GetString("asset_url") == "" {
					return nil, errors.New("missing asset_url")
				}
				return nil, nil
			},
		},
	)

	o := NewOrchestrator(nil)
	if err := o.Execute(context.Background(), sctx); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func names(steps []*Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Name
	}
	return out
}
