package fakebackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var reservedParams = map[string]bool{"select": true, "order": true, "limit": true, "offset": true}

func (s *Server) restRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /rest/v1/{table}", s.handleSelect)
	mux.HandleFunc("POST /rest/v1/{table}", s.handleInsert)
	mux.HandleFunc("PATCH /rest/v1/{table}", s.handleUpdate)
	mux.HandleFunc("DELETE /rest/v1/{table}", s.handleDelete)
}

// Seed appends rows to table as they are, without defaults or checks.
func (s *Server) Seed(table string, rows ...map[string]any) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, r := range rows {
		s.tables[table] = append(s.tables[table], cloneMap(r))
	}
}

// Rows returns a copy of table's rows.
func (s *Server) Rows(table string) []map[string]any {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]map[string]any, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		out = append(out, cloneMap(r))
	}
	return out
}

type filter struct {
	column string
	value  string
}

func parseFilters(q url.Values) ([]filter, error) {
	var fs []filter
	for col, vals := range q {
		if reservedParams[col] {
			continue
		}
		for _, v := range vals {
			op, arg, ok := strings.Cut(v, ".")
			if !ok || op != "eq" {
				return nil, fmt.Errorf("unsupported filter %s=%s", col, v)
			}
			fs = append(fs, filter{column: col, value: arg})
		}
	}
	return fs, nil
}

func matches(row map[string]any, fs []filter) bool {
	for _, f := range fs {
		v, ok := row[f.column]
		if !ok || v == nil || stringify(v) != f.value {
			return false
		}
	}
	return true
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fs, err := parseFilters(q)
	if err != nil {
		writeRestError(w, http.StatusBadRequest, "PGRST100", err.Error(), "")
		return
	}

	s.lock.Lock()
	var rows []map[string]any
	for _, row := range s.tables[r.PathValue("table")] {
		if matches(row, fs) {
			rows = append(rows, cloneMap(row))
		}
	}
	s.lock.Unlock()

	if order := q.Get("order"); order != "" {
		col, dir, _ := strings.Cut(order, ".")
		desc := strings.HasPrefix(dir, "desc")
		sort.SliceStable(rows, func(i, j int) bool {
			c := compare(rows[i][col], rows[j][col])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeRestError(w, http.StatusBadRequest, "PGRST100", "invalid limit", "")
			return
		}
		if n < len(rows) {
			rows = rows[:n]
		}
	}
	rows = project(rows, q.Get("select"))

	if strings.Contains(r.Header.Get("Accept"), "vnd.pgrst.object") {
		if len(rows) != 1 {
			writeRestError(w, http.StatusNotAcceptable, "PGRST116",
				"JSON object requested, multiple (or no) rows returned",
				fmt.Sprintf("The result contains %d rows", len(rows)))
			return
		}
		writeJSON(w, http.StatusOK, rows[0])
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func project(rows []map[string]any, sel string) []map[string]any {
	sel = strings.TrimSpace(sel)
	if sel == "" || sel == "*" {
		return rows
	}
	cols := strings.Split(sel, ",")
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		p := map[string]any{}
		for _, c := range cols {
			c = strings.TrimSpace(c)
			if v, ok := row[c]; ok {
				p[c] = v
			}
		}
		out = append(out, p)
	}
	return out
}

func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1 // nulls last
		default:
			return -1
		}
	}
	if af, ok := a.(float64); ok {
		if bf, ok := b.(float64); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	raw, err := decodeRows(r)
	if err != nil {
		writeRestError(w, http.StatusBadRequest, "PGRST102", err.Error(), "")
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.authenticate(r) == nil {
		writeRestError(w, http.StatusUnauthorized, "42501", fmt.Sprintf("new row violates row-level security policy for table %q", table), "")
		return
	}

	now := s.nowTime().UTC().Format(time.RFC3339Nano)
	inserted := make([]map[string]any, 0, len(raw))
	for _, row := range raw {
		if _, ok := row["id"]; !ok {
			row["id"] = uuid.NewString()
		}
		if _, ok := row["created_at"]; !ok {
			row["created_at"] = now
		}
		if col, ok := s.violatesUnique(table, row, append(inserted, s.tables[table]...)); ok {
			writeRestError(w, http.StatusConflict, "23505",
				fmt.Sprintf("duplicate key value violates unique constraint \"%s_%s_key\"", table, col),
				fmt.Sprintf("Key (%s)=(%s) already exists.", col, stringify(row[col])))
			return
		}
		inserted = append(inserted, row)
	}
	for _, row := range inserted {
		s.tables[table] = append(s.tables[table], cloneMap(row))
	}
	writeRepresentation(w, r, http.StatusCreated, inserted)
}

// violatesUnique is called with s.lock held.
func (s *Server) violatesUnique(table string, row map[string]any, existing []map[string]any) (string, bool) {
	for _, col := range s.unique[table] {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		for _, other := range existing {
			if other["id"] == row["id"] {
				continue
			}
			if ov, ok := other[col]; ok && ov != nil && stringify(ov) == stringify(v) {
				return col, true
			}
		}
	}
	return "", false
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	fs, err := parseFilters(r.URL.Query())
	if err != nil || len(fs) == 0 {
		writeRestError(w, http.StatusBadRequest, "21000", "UPDATE requires a WHERE clause", "")
		return
	}
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeRestError(w, http.StatusBadRequest, "PGRST102", "invalid JSON body", "")
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.authenticate(r) == nil {
		// Row-level security hides rows from anonymous writers.
		writeRepresentation(w, r, http.StatusOK, []map[string]any{})
		return
	}

	var updated []map[string]any
	for i, row := range s.tables[table] {
		if !matches(row, fs) {
			continue
		}
		next := cloneMap(row)
		for k, v := range patch {
			next[k] = v
		}
		if col, ok := s.violatesUnique(table, next, s.tables[table]); ok {
			writeRestError(w, http.StatusConflict, "23505",
				fmt.Sprintf("duplicate key value violates unique constraint \"%s_%s_key\"", table, col), "")
			return
		}
		s.tables[table][i] = next
		updated = append(updated, cloneMap(next))
	}
	if updated == nil {
		updated = []map[string]any{}
	}
	writeRepresentation(w, r, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	fs, err := parseFilters(r.URL.Query())
	if err != nil || len(fs) == 0 {
		writeRestError(w, http.StatusBadRequest, "21000", "DELETE requires a WHERE clause", "")
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.authenticate(r) == nil {
		writeRepresentation(w, r, http.StatusOK, []map[string]any{})
		return
	}

	kept := s.tables[table][:0:0]
	deleted := []map[string]any{}
	for _, row := range s.tables[table] {
		if matches(row, fs) {
			deleted = append(deleted, row)
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	writeRepresentation(w, r, http.StatusOK, deleted)
}

func decodeRows(r *http.Request) ([]map[string]any, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var rows []map[string]any
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return []map[string]any{row}, nil
}

func writeRepresentation(w http.ResponseWriter, r *http.Request, status int, rows []map[string]any) {
	if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		writeJSON(w, status, rows)
		return
	}
	if status == http.StatusOK {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func writeRestError(w http.ResponseWriter, status int, code, msg, details string) {
	body := map[string]any{"code": code, "message": msg, "hint": nil, "details": nil}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
