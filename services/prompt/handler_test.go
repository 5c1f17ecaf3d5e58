package prompt

import (
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/instantcocoa/evalbench/pkg/grpcutil"
	"github.com/instantcocoa/evalbench/pkg/session"
	"github.com/instantcocoa/evalbench/pkg/testutil"
)

func startHandler(t *testing.T) *grpc.ClientConn {
	t.Helper()

	logger := testutil.DiscardLogger()
	svc := NewPromptService(session.NewMemoryStore[Library](time.Hour), fakeDatasets{"sess-1": testDataset}, logger)

	ts := testutil.NewTestServer()
	NewHandler(logger, svc).Service().Register(ts.Server)
	ts.Start(t)
	return ts.Dial(t)
}

func TestHandler_CRUD(t *testing.T) {
	conn := startHandler(t)
	ctx := grpcutil.WithSession(testutil.TestContext(t), "sess-1")

	var created Template
	err := grpcutil.Invoke(ctx, conn, ServiceName, "Create",
		TemplateInput{Name: "greet", Body: "Hello {{name}}"}, &created)
	testutil.RequireNoError(t, err)
	if created.ID == "" || created.Version != DefaultVersion {
		t.Errorf("Create() = %+v", created)
	}

	var updated Template
	err = grpcutil.Invoke(ctx, conn, ServiceName, "Update",
		UpdateRequest{ID: created.ID, TemplateInput: TemplateInput{Name: "greet", Body: "Hi {{name}} ({{age}})", Version: "1.1"}}, &updated)
	testutil.RequireNoError(t, err)
	if len(updated.Variables) != 2 || updated.Version != "1.1" {
		t.Errorf("Update() = %+v", updated)
	}

	var list ListResponse
	err = grpcutil.Invoke(ctx, conn, ServiceName, "List", Empty{}, &list)
	testutil.RequireNoError(t, err)
	if len(list.Templates) != 1 {
		t.Fatalf("List() = %+v", list)
	}

	var preview PreviewResult
	err = grpcutil.Invoke(ctx, conn, ServiceName, "Preview", PreviewRequest{Template: list.Templates[0].Body}, &preview)
	testutil.RequireNoError(t, err)
	if preview.Rendered != "Hi Al (5)" {
		t.Errorf("Rendered = %q, want %q", preview.Rendered, "Hi Al (5)")
	}

	err = grpcutil.Invoke(ctx, conn, ServiceName, "Delete", IDRequest{ID: created.ID}, nil)
	testutil.RequireNoError(t, err)

	err = grpcutil.Invoke(ctx, conn, ServiceName, "Get", IDRequest{ID: created.ID}, &Template{})
	if status.Code(err) != codes.NotFound {
		t.Errorf("Get(deleted) code = %v, want NotFound", status.Code(err))
	}
}

func TestHandler_ImportExport(t *testing.T) {
	conn := startHandler(t)
	ctx := grpcutil.WithSession(testutil.TestContext(t), "sess-2")

	var imported ListResponse
	err := grpcutil.Invoke(ctx, conn, ServiceName, "Import", LibraryRequest{
		Format: "yaml",
		Data:   []byte("templates:\n  - name: a\n    template: \"{{q}}\"\n"),
	}, &imported)
	testutil.RequireNoError(t, err)
	if len(imported.Templates) != 1 {
		t.Fatalf("Import() = %+v", imported)
	}

	var exported LibraryResponse
	err = grpcutil.Invoke(ctx, conn, ServiceName, "Export", ExportRequest{Format: "json"}, &exported)
	testutil.RequireNoError(t, err)
	if exported.Format != LibraryFormatJSON || len(exported.Data) == 0 {
		t.Errorf("Export() = %+v", exported)
	}
}

func TestHandler_Errors(t *testing.T) {
	conn := startHandler(t)
	ctx := grpcutil.WithSession(testutil.TestContext(t), "sess-1")

	tests := []struct {
		name   string
		method string
		req    any
		want   codes.Code
	}{
		{"missing body", "Create", TemplateInput{Name: "x"}, codes.InvalidArgument},
		{"unknown variable", "Create", TemplateInput{Name: "x", Body: "{{nope}}"}, codes.InvalidArgument},
		{"update without id", "Update", UpdateRequest{TemplateInput: TemplateInput{Name: "x", Body: "y"}}, codes.InvalidArgument},
		{"unknown id", "Get", IDRequest{ID: "pmt_missing"}, codes.NotFound},
		{"row out of range", "Preview", PreviewRequest{Template: "x", RowIndex: 9}, codes.OutOfRange},
		{"bad library", "Import", LibraryRequest{Format: "json", Data: []byte(`{}`)}, codes.InvalidArgument},
		{"bad format", "Export", ExportRequest{Format: "toml"}, codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := grpcutil.Invoke(ctx, conn, ServiceName, tt.method, tt.req, nil)
			if got := status.Code(err); got != tt.want {
				t.Errorf("%s code = %v, want %v (err %v)", tt.method, got, tt.want, err)
			}
		})
	}

	t.Run("no session", func(t *testing.T) {
		err := grpcutil.Invoke(testutil.TestContext(t), conn, ServiceName, "List", Empty{}, nil)
		if status.Code(err) != codes.InvalidArgument {
			t.Errorf("List without session code = %v, want InvalidArgument", status.Code(err))
		}
	})
}
