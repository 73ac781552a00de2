package api

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/logsight/ds-analyzer/internal/models"
	"github.com/logsight/ds-analyzer/internal/repo"
	"github.com/logsight/ds-analyzer/internal/report"
	"github.com/logsight/ds-analyzer/internal/utils"
)

const maxListLimit = 200

// FromStructAnalysisRequest maps an Analyze payload into a domain request:
//
//	{"kind": "ds_agent",
//	 "files": [{"name": "ds_agent.log", "content": "..."}],
//	 "options": {"skip_completion": false, "deadline_seconds": 30, "model": ""}}
//
// A single file may also be sent as top-level "file_name" and "content".
// Without a kind, one file selects its kind by name and several files form a
// diagnostic package.
func FromStructAnalysisRequest(req *structpb.Struct) (models.AnalysisRequest, error) {
	if req == nil {
		return models.AnalysisRequest{}, fmt.Errorf("request is nil")
	}
	fields := req.AsMap()

	var out models.AnalysisRequest
	files, err := inputFiles(fields)
	if err != nil {
		return models.AnalysisRequest{}, err
	}
	if len(files) == 0 {
		return models.AnalysisRequest{}, fmt.Errorf("at least one file is required")
	}
	out.Files = files

	kindValue, err := stringField(fields, "kind")
	if err != nil {
		return models.AnalysisRequest{}, err
	}
	switch {
	case strings.TrimSpace(kindValue) != "":
		kind, ok := models.ParseKind(kindValue)
		if !ok {
			return models.AnalysisRequest{}, fmt.Errorf("unknown kind %q", kindValue)
		}
		out.Kind = kind
	case len(files) > 1:
		out.Kind = models.KindDiagnosticPackage
	default:
		out.Kind = models.DetectKind(files[0].Name)
	}

	if raw, ok := fields["options"]; ok && raw != nil {
		opts, ok := raw.(map[string]any)
		if !ok {
			return models.AnalysisRequest{}, fmt.Errorf("options must be an object")
		}
		if out.Options, err = analysisOptions(opts); err != nil {
			return models.AnalysisRequest{}, err
		}
	}
	return out, nil
}

func inputFiles(fields map[string]any) ([]models.InputFile, error) {
	if content, ok := fields["content"]; ok {
		text, ok := content.(string)
		if !ok {
			return nil, fmt.Errorf("content must be a string")
		}
		name, err := stringField(fields, "file_name")
		if err != nil {
			return nil, err
		}
		if name == "" {
			name = "upload.log"
		}
		return []models.InputFile{{Name: name, Content: text}}, nil
	}

	raw, ok := fields["files"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("files must be a list")
	}
	files := make([]models.InputFile, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("files[%d] must be an object", i)
		}
		name, err := stringField(entry, "name")
		if err != nil {
			return nil, fmt.Errorf("files[%d]: %w", i, err)
		}
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("files[%d].name is required", i)
		}
		content, err := stringField(entry, "content")
		if err != nil {
			return nil, fmt.Errorf("files[%d]: %w", i, err)
		}
		files = append(files, models.InputFile{Name: name, Content: content})
	}
	return files, nil
}

func analysisOptions(opts map[string]any) (models.AnalysisOptions, error) {
	var out models.AnalysisOptions
	if v, ok := opts["skip_completion"]; ok {
		skip, ok := v.(bool)
		if !ok {
			return out, fmt.Errorf("options.skip_completion must be a boolean")
		}
		out.SkipCompletion = skip
	}
	if v, ok := opts["deadline_seconds"]; ok {
		secs, ok := v.(float64)
		if !ok || secs < 0 || math.IsNaN(secs) {
			return out, fmt.Errorf("options.deadline_seconds must be a non-negative number")
		}
		out.Deadline = time.Duration(secs * float64(time.Second))
	}
	model, err := stringField(opts, "model")
	if err != nil {
		return out, fmt.Errorf("options: %w", err)
	}
	out.Model = model
	return out, nil
}

// ToStructReport converts a report into its Struct form. The report is
// encoded through its JSON representation so nested statistics become plain
// Struct values.
func ToStructReport(rep models.AnalysisReport) (*structpb.Struct, error) {
	m, err := genericMap(rep)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// FromStructGetReport extracts the report id of a GetReport payload.
func FromStructGetReport(req *structpb.Struct) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	id, err := stringField(req.AsMap(), "id")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("id is required")
	}
	return id, nil
}

// ListReportsRequest is the decoded ListReports payload.
type ListReportsRequest struct {
	Filter        repo.ListFilter
	IncludeReport bool
}

// FromStructListReports maps {"kind": "...", "limit": 20, "include_report": false}.
func FromStructListReports(req *structpb.Struct) (ListReportsRequest, error) {
	var out ListReportsRequest
	if req == nil {
		return out, nil
	}
	fields := req.AsMap()

	kindValue, err := stringField(fields, "kind")
	if err != nil {
		return out, err
	}
	if strings.TrimSpace(kindValue) != "" {
		kind, ok := models.ParseKind(kindValue)
		if !ok {
			return out, fmt.Errorf("unknown kind %q", kindValue)
		}
		out.Filter.Kind = kind
	}
	since, err := stringField(fields, "since")
	if err != nil {
		return out, err
	}
	if since != "" {
		t, err := utils.ParseRFC3339(since)
		if err != nil {
			return out, fmt.Errorf("since: %w", err)
		}
		out.Filter.Since = t.UTC()
	}
	if v, ok := fields["limit"]; ok {
		limit, ok := v.(float64)
		if !ok || limit < 0 || limit > maxListLimit || limit != math.Trunc(limit) {
			return out, fmt.Errorf("limit must be an integer between 0 and %d", maxListLimit)
		}
		out.Filter.Limit = int(limit)
	}
	if v, ok := fields["include_report"]; ok {
		include, ok := v.(bool)
		if !ok {
			return out, fmt.Errorf("include_report must be a boolean")
		}
		out.IncludeReport = include
	}
	return out, nil
}

// ToStructReportRecord converts a stored report into its Struct form.
func ToStructReportRecord(rec repo.ReportRecord, includeReport bool) (*structpb.Struct, error) {
	m, err := recordMap(rec, includeReport)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// ToStructReportList converts stored reports into {"reports": [...]}.
func ToStructReportList(records []repo.ReportRecord, includeReport bool) (*structpb.Struct, error) {
	items := make([]any, 0, len(records))
	for _, rec := range records {
		m, err := recordMap(rec, includeReport)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return structpb.NewStruct(map[string]any{"reports": items})
}

func recordMap(rec repo.ReportRecord, includeReport bool) (map[string]any, error) {
	m := map[string]any{
		"id":         rec.ID,
		"run_id":     rec.RunID,
		"kind":       string(rec.Kind),
		"severity":   string(rec.Severity),
		"summary":    rec.Summary,
		"degraded":   rec.Degraded,
		"created_at": rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if includeReport {
		body, err := genericMap(rec.Report)
		if err != nil {
			return nil, err
		}
		m["report"] = body
	}
	return m, nil
}

func genericMap(rep models.AnalysisReport) (map[string]any, error) {
	data, err := report.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return m, nil
}

func stringField(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}
