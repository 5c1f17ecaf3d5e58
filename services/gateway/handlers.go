package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/instantcocoa/evalbench/pkg/grpcutil"
	"github.com/instantcocoa/evalbench/services/datasets"
	"github.com/instantcocoa/evalbench/services/eval"
	"github.com/instantcocoa/evalbench/services/prompt"
	"github.com/instantcocoa/evalbench/services/providers"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBytes(w http.ResponseWriter, data []byte, contentType, fileName string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeError maps err the same way the gRPC services do. Internal errors are
// logged and their detail withheld.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	st := status.Convert(grpcutil.ToStatus(err, g.errCodes))
	msg := st.Message()
	if st.Code() == codes.Internal || st.Code() == codes.Unknown {
		g.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, errorBody{Error: msg, Code: st.Code().String()}, grpcutil.HTTPStatus(st.Code()))
}

func (g *Gateway) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, errorBody{Error: msg, Code: codes.InvalidArgument.String()}, http.StatusBadRequest)
}

// decodeJSON reads a JSON body into v. An empty body leaves v unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func (g *Gateway) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "service": "evalbench"}, http.StatusOK)
}

func (g *Gateway) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"version":     g.cfg.Version,
		"environment": g.cfg.Environment,
	}, http.StatusOK)
}

// Datasets

// uploadDataset accepts a multipart form with the file in field "file", or
// the raw CSV as the body with the name in ?filename=.
func (g *Gateway) uploadDataset(w http.ResponseWriter, r *http.Request) {
	limit := g.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = maxJSONBody
	}
	// Multipart framing needs headroom over the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, limit+maxJSONBody)

	var (
		name string
		data []byte
		err  error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		name, data, err = readFormFile(r, limit)
	} else {
		name = r.URL.Query().Get("filename")
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.writeError(w, r, datasets.ErrTooLarge)
			return
		}
		g.badRequest(w, err.Error())
		return
	}

	result, err := g.svcs.Datasets.Upload(r.Context(), datasets.UploadInput{
		SessionID: sessionID(r),
		FileName:  name,
		Source:    datasets.DataSource{Inline: &datasets.InlineSource{Data: data}},
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, result, http.StatusCreated)
}

func readFormFile(r *http.Request, limit int64) (string, []byte, error) {
	if err := r.ParseMultipartForm(limit); err != nil {
		return "", nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("missing form file %q: %w", "file", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}
	return header.Filename, data, nil
}

func (g *Gateway) getDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := g.svcs.Datasets.Get(r.Context(), sessionID(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, ds, http.StatusOK)
}

func (g *Gateway) clearDataset(w http.ResponseWriter, r *http.Request) {
	if err := g.svcs.Datasets.Clear(r.Context(), sessionID(r)); err != nil {
		g.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) previewDataset(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		g.badRequest(w, err.Error())
		return
	}
	preview, err := g.svcs.Datasets.Preview(r.Context(), sessionID(r), limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, preview, http.StatusOK)
}

func (g *Gateway) exportDataset(w http.ResponseWriter, r *http.Request) {
	format, err := datasets.ParseDataFormat(r.URL.Query().Get("format"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	data, err := g.svcs.Datasets.Export(r.Context(), sessionID(r), format)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeBytes(w, data, format.ContentType(), "dataset."+string(format))
}

// Prompts

func (g *Gateway) listPrompts(w http.ResponseWriter, r *http.Request) {
	templates, err := g.svcs.Prompts.List(r.Context(), sessionID(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, prompt.ListResponse{Templates: templates}, http.StatusOK)
}

func (g *Gateway) createPrompt(w http.ResponseWriter, r *http.Request) {
	var input prompt.TemplateInput
	if err := decodeJSON(w, r, &input); err != nil {
		g.badRequest(w, "invalid json")
		return
	}
	tmpl, err := g.svcs.Prompts.Create(r.Context(), sessionID(r), input)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, tmpl, http.StatusCreated)
}

func (g *Gateway) getPrompt(w http.ResponseWriter, r *http.Request) {
	tmpl, err := g.svcs.Prompts.Get(r.Context(), sessionID(r), mux.Vars(r)["id"])
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, tmpl, http.StatusOK)
}

func (g *Gateway) updatePrompt(w http.ResponseWriter, r *http.Request) {
	var input prompt.TemplateInput
	if err := decodeJSON(w, r, &input); err != nil {
		g.badRequest(w, "invalid json")
		return
	}
	tmpl, err := g.svcs.Prompts.Update(r.Context(), sessionID(r), mux.Vars(r)["id"], input)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, tmpl, http.StatusOK)
}

func (g *Gateway) deletePrompt(w http.ResponseWriter, r *http.Request) {
	if err := g.svcs.Prompts.Delete(r.Context(), sessionID(r), mux.Vars(r)["id"]); err != nil {
		g.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) validatePrompt(w http.ResponseWriter, r *http.Request) {
	var req prompt.BodyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.badRequest(w, "invalid json")
		return
	}
	result, err := g.svcs.Prompts.Validate(r.Context(), sessionID(r), req.Template)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, result, http.StatusOK)
}

func (g *Gateway) previewPrompt(w http.ResponseWriter, r *http.Request) {
	var req prompt.PreviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.badRequest(w, "invalid json")
		return
	}
	result, err := g.svcs.Prompts.Preview(r.Context(), sessionID(r), req.Template, req.RowIndex)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, result, http.StatusOK)
}

// importPrompts takes a library file as the raw body. The format comes from
// ?format= or the extension of ?filename=.
func (g *Gateway) importPrompts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := prompt.FormatFromFileName(q.Get("filename"))
	if raw := q.Get("format"); raw != "" {
		var err error
		if format, err = prompt.ParseLibraryFormat(raw); err != nil {
			g.writeError(w, r, err)
			return
		}
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		g.badRequest(w, err.Error())
		return
	}
	templates, err := g.svcs.Prompts.ImportLibrary(r.Context(), sessionID(r), data, format)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, prompt.ListResponse{Templates: templates}, http.StatusCreated)
}

func (g *Gateway) exportPrompts(w http.ResponseWriter, r *http.Request) {
	format, err := prompt.ParseLibraryFormat(r.URL.Query().Get("format"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	data, err := g.svcs.Prompts.ExportLibrary(r.Context(), sessionID(r), format)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	contentType := "application/yaml"
	if format == prompt.LibraryFormatJSON {
		contentType = "application/json"
	}
	writeBytes(w, data, contentType, "prompts."+string(format))
}

// Providers

type providersResponse struct {
	Catalog  []providers.ProviderInfo `json:"catalog"`
	Settings *providers.Settings      `json:"settings"`
}

func (g *Gateway) listProviders(w http.ResponseWriter, r *http.Request) {
	settings, err := g.svcs.Providers.Get(r.Context(), sessionID(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, providersResponse{Catalog: providers.Catalog(), Settings: settings}, http.StatusOK)
}

func (g *Gateway) configureProvider(w http.ResponseWriter, r *http.Request) {
	var input providers.ConfigInput
	if err := decodeJSON(w, r, &input); err != nil {
		g.badRequest(w, "invalid json")
		return
	}
	cfg, err := g.svcs.Providers.Configure(r.Context(), sessionID(r), mux.Vars(r)["name"], input)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, cfg, http.StatusOK)
}

func (g *Gateway) testProvider(w http.ResponseWriter, r *http.Request) {
	cfg, err := g.svcs.Providers.TestConnection(r.Context(), sessionID(r), mux.Vars(r)["name"])
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, cfg, http.StatusOK)
}

func (g *Gateway) setJudge(w http.ResponseWriter, r *http.Request) {
	var judge providers.JudgeConfig
	if err := decodeJSON(w, r, &judge); err != nil {
		g.badRequest(w, "invalid json")
		return
	}
	got, err := g.svcs.Providers.SetJudge(r.Context(), sessionID(r), judge)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, got, http.StatusOK)
}

// Evals

func (g *Gateway) startRun(w http.ResponseWriter, r *http.Request) {
	var input eval.StartInput
	if err := decodeJSON(w, r, &input); err != nil {
		g.badRequest(w, "invalid json")
		return
	}
	run, err := g.svcs.Evals.StartRun(r.Context(), sessionID(r), input)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, run, http.StatusAccepted)
}

func (g *Gateway) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := g.svcs.Evals.ListRuns(r.Context(), sessionID(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, eval.ListResponse{Runs: runs}, http.StatusOK)
}

func (g *Gateway) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := g.svcs.Evals.GetRun(r.Context(), sessionID(r), mux.Vars(r)["id"])
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, run, http.StatusOK)
}

func (g *Gateway) cancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := g.svcs.Evals.CancelRun(r.Context(), sessionID(r), mux.Vars(r)["id"])
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, run, http.StatusOK)
}

func (g *Gateway) getResults(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		g.badRequest(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		g.badRequest(w, err.Error())
		return
	}
	page, err := g.svcs.Evals.GetResults(r.Context(), sessionID(r), mux.Vars(r)["id"], limit, offset)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, page, http.StatusOK)
}

func (g *Gateway) recordScores(w http.ResponseWriter, r *http.Request) {
	var req eval.ScoresRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.badRequest(w, "invalid json")
		return
	}
	vars := mux.Vars(r)
	result, err := g.svcs.Evals.RecordScores(r.Context(), sessionID(r), vars["id"], vars["resultID"], req.Scores)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, result, http.StatusOK)
}

func (g *Gateway) summarize(w http.ResponseWriter, r *http.Request) {
	summary, err := g.svcs.Evals.Summarize(r.Context(), sessionID(r), mux.Vars(r)["id"])
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, summary, http.StatusOK)
}
