package prompt

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/instantcocoa/evalbench/pkg/session"
	"github.com/instantcocoa/evalbench/pkg/testutil"
	"github.com/instantcocoa/evalbench/services/datasets"
)

// fakeDatasets serves fixed datasets per session.
type fakeDatasets map[string]*datasets.Dataset

func (f fakeDatasets) Get(_ context.Context, sid string) (*datasets.Dataset, error) {
	if ds, ok := f[sid]; ok {
		return ds, nil
	}
	return nil, datasets.ErrNoDataset
}

var testDataset = &datasets.Dataset{
	Headers: []string{"name", "age"},
	Rows: []datasets.Row{
		{"name": "Al", "age": "5"},
		{"name": "Bo", "age": ""},
	},
	RowCount: 2,
}

func newTestService(ds fakeDatasets) *PromptService {
	svc := NewPromptService(session.NewMemoryStore[Library](time.Hour), ds, testutil.DiscardLogger())

	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("pmt_%d", n)
	}
	return svc
}

func TestPromptService_Create(t *testing.T) {
	svc := newTestService(fakeDatasets{"s1": testDataset})
	ctx := context.Background()

	got, err := svc.Create(ctx, "s1", TemplateInput{Name: " Greeting ", Body: "Hello {{name}}, age {{age}} {{name}}"})
	testutil.RequireNoError(t, err)

	if got.ID != "pmt_1" {
		t.Errorf("ID = %v, want pmt_1", got.ID)
	}
	if got.Name != "Greeting" {
		t.Errorf("Name = %q, want trimmed", got.Name)
	}
	if got.Version != DefaultVersion {
		t.Errorf("Version = %v, want %v", got.Version, DefaultVersion)
	}
	if !reflect.DeepEqual(got.Variables, []string{"name", "age"}) {
		t.Errorf("Variables = %v, want [name age]", got.Variables)
	}
	if !got.CreatedAt.Equal(got.UpdatedAt) {
		t.Errorf("CreatedAt %v != UpdatedAt %v", got.CreatedAt, got.UpdatedAt)
	}

	list, err := svc.List(ctx, "s1")
	testutil.RequireNoError(t, err)
	if len(list) != 1 || list[0].ID != got.ID {
		t.Errorf("List() = %v", list)
	}
}

func TestPromptService_CreateRequiredFields(t *testing.T) {
	svc := newTestService(nil)

	tests := []struct {
		name  string
		input TemplateInput
		want  []error
	}{
		{"no name", TemplateInput{Body: "x"}, []error{ErrNameRequired}},
		{"no body", TemplateInput{Name: "x", Body: "  "}, []error{ErrTemplateRequired}},
		{"neither", TemplateInput{}, []error{ErrNameRequired, ErrTemplateRequired}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), "s1", tt.input)
			for _, want := range tt.want {
				if !errors.Is(err, want) {
					t.Errorf("Create() error = %v, want %v", err, want)
				}
			}
		})
	}
}

func TestPromptService_CreateValidatesAgainstDataset(t *testing.T) {
	svc := newTestService(fakeDatasets{"s1": testDataset})
	ctx := context.Background()

	_, err := svc.Create(ctx, "s1", TemplateInput{Name: "bad", Body: "Hi {{nmae}}"})
	if !errors.Is(err, ErrTemplateInvalid) {
		t.Fatalf("Create() error = %v, want %v", err, ErrTemplateInvalid)
	}

	// Without a dataset any variable is accepted.
	got, err := svc.Create(ctx, "s2", TemplateInput{Name: "free", Body: "Hi {{anything}}"})
	testutil.RequireNoError(t, err)
	if !reflect.DeepEqual(got.Variables, []string{"anything"}) {
		t.Errorf("Variables = %v", got.Variables)
	}
}

func TestPromptService_Update(t *testing.T) {
	svc := newTestService(fakeDatasets{"s1": testDataset})
	ctx := context.Background()

	created, err := svc.Create(ctx, "s1", TemplateInput{Name: "a", Body: "{{name}}"})
	testutil.RequireNoError(t, err)

	updated, err := svc.Update(ctx, "s1", created.ID, TemplateInput{Name: "b", Body: "{{age}}", Version: "2.0-beta"})
	testutil.RequireNoError(t, err)

	if updated.ID != created.ID {
		t.Errorf("ID = %v, want %v", updated.ID, created.ID)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", created.CreatedAt, updated.CreatedAt)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("UpdatedAt not refreshed: %v", updated.UpdatedAt)
	}
	if !reflect.DeepEqual(updated.Variables, []string{"age"}) {
		t.Errorf("Variables = %v, want re-derived [age]", updated.Variables)
	}
	if updated.Version != "2.0-beta" {
		t.Errorf("Version = %v", updated.Version)
	}

	// The value returned by Create must not see the update.
	if created.Name != "a" {
		t.Errorf("created template mutated: %+v", created)
	}

	if _, err := svc.Update(ctx, "s1", "missing", TemplateInput{Name: "x", Body: "y"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want %v", err, ErrNotFound)
	}
	if _, err := svc.Update(ctx, "s1", created.ID, TemplateInput{Name: "x", Body: "{{nope}}"}); !errors.Is(err, ErrTemplateInvalid) {
		t.Errorf("Update(invalid) error = %v, want %v", err, ErrTemplateInvalid)
	}
}

func TestPromptService_DeleteAndGet(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	a, err := svc.Create(ctx, "s1", TemplateInput{Name: "a", Body: "1"})
	testutil.RequireNoError(t, err)
	b, err := svc.Create(ctx, "s1", TemplateInput{Name: "b", Body: "2"})
	testutil.RequireNoError(t, err)

	testutil.RequireNoError(t, svc.Delete(ctx, "s1", a.ID))

	if _, err := svc.Get(ctx, "s1", a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want %v", err, ErrNotFound)
	}
	got, err := svc.Get(ctx, "s1", b.ID)
	testutil.RequireNoError(t, err)
	if got.Name != "b" {
		t.Errorf("Get() = %+v", got)
	}

	if err := svc.Delete(ctx, "s1", a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(twice) error = %v, want %v", err, ErrNotFound)
	}
}

func TestPromptService_SessionsAreIsolated(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, "s1", TemplateInput{Name: "a", Body: "1"})
	testutil.RequireNoError(t, err)

	list, err := svc.List(ctx, "s2")
	testutil.RequireNoError(t, err)
	if len(list) != 0 {
		t.Errorf("List(s2) = %v, want empty", list)
	}

	if _, err := svc.List(ctx, ""); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("List(\"\") error = %v, want %v", err, session.ErrNoSession)
	}
}

func TestPromptService_Validate(t *testing.T) {
	svc := newTestService(fakeDatasets{"s1": testDataset})
	ctx := context.Background()

	got, err := svc.Validate(ctx, "s1", "Hello {{name}}")
	testutil.RequireNoError(t, err)
	if !got.Valid || !got.DatasetLoaded {
		t.Errorf("Validate() = %+v, want valid", got)
	}

	got, err = svc.Validate(ctx, "s1", "Hello {{nam}}")
	testutil.RequireNoError(t, err)
	if !reflect.DeepEqual(got.InvalidVariables, []string{"nam"}) {
		t.Errorf("InvalidVariables = %v, want [nam]", got.InvalidVariables)
	}
	if s := got.Suggestions["nam"]; len(s) == 0 || s[0] != "name" {
		t.Errorf("Suggestions = %v, want name", got.Suggestions)
	}

	got, err = svc.Validate(ctx, "none", "{{x}}")
	testutil.RequireNoError(t, err)
	if !got.Valid || got.DatasetLoaded {
		t.Errorf("Validate() without dataset = %+v", got)
	}
}

func TestPromptService_Preview(t *testing.T) {
	svc := newTestService(fakeDatasets{"s1": testDataset})
	ctx := context.Background()

	tests := []struct {
		name    string
		sid     string
		body    string
		row     int
		want    string
		wantErr error
	}{
		{"first row", "s1", "{{name}} is {{age}}", 0, "Al is 5", nil},
		{"empty value", "s1", "{{name}} is [{{age}}]", 1, "Bo is []", nil},
		{"missing stays", "s1", "{{missing}}", 0, "{{missing}}", nil},
		{"out of range", "s1", "x", 2, "", ErrRowOutOfRange},
		{"negative", "s1", "x", -1, "", ErrRowOutOfRange},
		{"no dataset", "s2", "{{name}}", 0, "{{name}}", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Preview(ctx, tt.sid, tt.body, tt.row)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Preview() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			testutil.RequireNoError(t, err)
			if got.Rendered != tt.want {
				t.Errorf("Rendered = %q, want %q", got.Rendered, tt.want)
			}
		})
	}
}

func TestPromptService_ImportExport(t *testing.T) {
	svc := newTestService(fakeDatasets{"s1": testDataset})
	ctx := context.Background()

	_, err := svc.Create(ctx, "s1", TemplateInput{Name: "existing", Body: "{{name}}"})
	testutil.RequireNoError(t, err)

	lib := []byte(`templates:
  - name: ask
    template: "How old is {{name}}?"
  - name: tell
    description: states the age
    template: "{{name}} is {{age}}"
    version: "2"
`)
	imported, err := svc.ImportLibrary(ctx, "s1", lib, LibraryFormatYAML)
	testutil.RequireNoError(t, err)
	if len(imported) != 2 {
		t.Fatalf("imported %d templates, want 2", len(imported))
	}
	if imported[0].Version != DefaultVersion || imported[1].Version != "2" {
		t.Errorf("versions = %q, %q", imported[0].Version, imported[1].Version)
	}

	list, err := svc.List(ctx, "s1")
	testutil.RequireNoError(t, err)
	if len(list) != 3 || list[0].Name != "existing" || list[2].Name != "tell" {
		t.Errorf("List() after import = %v", list)
	}

	out, err := svc.ExportLibrary(ctx, "s1", LibraryFormatJSON)
	testutil.RequireNoError(t, err)

	// Re-importing the export into another session yields the same templates.
	again, err := svc.ImportLibrary(ctx, "s2", out, LibraryFormatJSON)
	testutil.RequireNoError(t, err)
	if len(again) != 3 || again[2].Body != "{{name}} is {{age}}" || again[2].Description != "states the age" {
		t.Errorf("re-import = %+v", again)
	}
}

func TestPromptService_ImportIsAllOrNothing(t *testing.T) {
	svc := newTestService(fakeDatasets{"s1": testDataset})
	ctx := context.Background()

	lib := []byte(`{"templates": [
		{"name": "ok", "template": "{{name}}"},
		{"name": "bad", "template": "{{unknown}}"}
	]}`)
	if _, err := svc.ImportLibrary(ctx, "s1", lib, LibraryFormatJSON); !errors.Is(err, ErrTemplateInvalid) {
		t.Fatalf("ImportLibrary() error = %v, want %v", err, ErrTemplateInvalid)
	}

	list, err := svc.List(ctx, "s1")
	testutil.RequireNoError(t, err)
	if len(list) != 0 {
		t.Errorf("List() = %v, want nothing imported", list)
	}
}
