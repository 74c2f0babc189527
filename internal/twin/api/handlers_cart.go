package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/wondertwin-ai/samplecart/internal/cart"
	"github.com/wondertwin-ai/samplecart/internal/twin/store"
	"github.com/wondertwin-ai/samplecart/pkg/twincore"
)

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expected integer, got %s", data)
	}
	*f = flexInt(n)
	return nil
}

// sectionList accepts an array of ids or a comma separated string.
type sectionList []string

func (s *sectionList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("sections must be a list or a string")
	}
	*s = splitSections(str)
	return nil
}

func splitSections(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func badRequest(w http.ResponseWriter, err error) {
	twincore.CartError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
}

// isForm reports whether the body is form or multipart encoded.
func isForm(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

func parseForm(r *http.Request) error {
	if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return err
	}
	return nil
}

// decodeJSON decodes the body into v; an empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// writeCart answers a mutation with the cart and any requested sections.
func (h *Handler) writeCart(w http.ResponseWriter, c *cart.Cart, sectionIDs []string) {
	rendered, err := h.sections.RenderAll(sectionIDs, c)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	c.Sections = rendered
	twincore.JSON(w, http.StatusOK, c)
}

// GetCart handles GET /cart.js.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	tok, err := h.cartToken(w, r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	twincore.JSON(w, http.StatusOK, h.view(tok))
}

// GetCartPage handles GET /cart. With section_id it answers one rendered
// section as HTML; with sections it answers a JSON map of them; otherwise it
// renders the cart page sections.
func (h *Handler) GetCartPage(w http.ResponseWriter, r *http.Request) {
	tok, err := h.cartToken(w, r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	c := h.view(tok)

	if ids := r.URL.Query().Get("sections"); ids != "" {
		rendered, err := h.sections.RenderAll(splitSections(ids), c)
		if err != nil {
			h.writeErr(w, err)
			return
		}
		twincore.JSON(w, http.StatusOK, rendered)
		return
	}

	ids := []string{SectionMainItems, SectionMainFooter}
	if id := r.URL.Query().Get("section_id"); id != "" {
		if !h.sections.Known(id) {
			http.Error(w, "section not found", http.StatusNotFound)
			return
		}
		ids = []string{id}
	}
	var page strings.Builder
	for _, id := range ids {
		html, err := h.sections.Render(id, c)
		if err != nil {
			h.writeErr(w, err)
			return
		}
		page.WriteString(html)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, page.String())
}

type addItem struct {
	ID         flexInt         `json:"id"`
	Quantity   flexInt         `json:"quantity"`
	Properties cart.Properties `json:"properties"`
}

type addRequest struct {
	addItem
	Items       []addItem   `json:"items"`
	Sections    sectionList `json:"sections"`
	SectionsURL string      `json:"sections_url"`
}

// decodeAdd reads a JSON add (single or items) or a product form post.
func decodeAdd(r *http.Request) (addRequest, bool, error) {
	var req addRequest
	if isForm(r) {
		if err := parseForm(r); err != nil {
			return req, false, err
		}
		id, err := strconv.ParseInt(r.FormValue("id"), 10, 64)
		if err != nil {
			return req, false, fmt.Errorf("id: %w", err)
		}
		req.ID = flexInt(id)
		if q := r.FormValue("quantity"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil {
				return req, false, fmt.Errorf("quantity: %w", err)
			}
			req.Quantity = flexInt(n)
		}
		for k, v := range r.Form {
			if name, ok := strings.CutPrefix(k, "properties["); ok && strings.HasSuffix(name, "]") && len(v) > 0 {
				if req.Properties == nil {
					req.Properties = cart.Properties{}
				}
				req.Properties[strings.TrimSuffix(name, "]")] = v[0]
			}
		}
		req.Sections = splitSections(r.FormValue("sections"))
		return req, false, nil
	}
	if err := decodeJSON(r, &req); err != nil {
		return req, false, err
	}
	return req, len(req.Items) > 0, nil
}

type addedItem struct {
	cart.LineItem
	Sections map[string]string `json:"sections,omitempty"`
}

// AddToCart handles POST /cart/add.js. Adding a list answers
// {"items": [...]}; adding a single variant answers that line item.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	req, multi, err := decodeAdd(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	tok, err := h.cartToken(w, r)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	items := req.Items
	if !multi {
		if req.ID == 0 {
			h.writeErr(w, &store.Error{Status: http.StatusBadRequest, Description: "Required parameter missing or invalid: id"})
			return
		}
		items = []addItem{req.addItem}
	}
	lines := make([]store.AddLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, store.AddLine{
			VariantID:  int64(it.ID),
			Quantity:   int(it.Quantity),
			Properties: it.Properties,
		})
	}

	res, err := h.store.Add(tok, lines)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.notify(res)

	rendered, err := h.sections.RenderAll(req.Sections, h.store.View(res.Cart))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	added := make([]cart.LineItem, 0, len(res.Added))
	for _, l := range res.Added {
		added = append(added, h.store.LineItem(l))
	}
	if !multi {
		twincore.JSON(w, http.StatusOK, addedItem{LineItem: added[0], Sections: rendered})
		return
	}
	twincore.JSON(w, http.StatusOK, map[string]any{"items": added, "sections": rendered})
}

type changeRequest struct {
	Line       flexInt         `json:"line"`
	ID         json.RawMessage `json:"id"`
	Quantity   *flexInt        `json:"quantity"`
	Properties cart.Properties `json:"properties"`
	Sections   sectionList     `json:"sections"`
}

func (req changeRequest) ref() (store.LineRef, error) {
	if req.Line > 0 {
		return store.LineRef{Index: int(req.Line)}, nil
	}
	if len(req.ID) == 0 || string(req.ID) == "null" {
		return store.LineRef{}, nil
	}
	var key string
	if err := json.Unmarshal(req.ID, &key); err == nil && strings.Contains(key, ":") {
		return store.LineRef{Key: key}, nil
	}
	var id flexInt
	if err := id.UnmarshalJSON(req.ID); err != nil {
		return store.LineRef{}, fmt.Errorf("id: %w", err)
	}
	return store.LineRef{VariantID: int64(id)}, nil
}

// ChangeLine handles POST /cart/change.js.
func (h *Handler) ChangeLine(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if isForm(r) {
		if err := parseForm(r); err != nil {
			badRequest(w, err)
			return
		}
		line, _ := strconv.Atoi(r.FormValue("line"))
		req.Line = flexInt(line)
		if id := r.FormValue("id"); id != "" {
			req.ID, _ = json.Marshal(id)
		}
		if q := r.FormValue("quantity"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil {
				badRequest(w, fmt.Errorf("quantity: %w", err))
				return
			}
			fq := flexInt(n)
			req.Quantity = &fq
		}
		req.Sections = splitSections(r.FormValue("sections"))
	} else if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	ref, err := req.ref()
	if err != nil {
		badRequest(w, err)
		return
	}
	if req.Quantity == nil {
		twincore.CartErrors(w, http.StatusBadRequest, "quantity parameter missing")
		return
	}
	tok, err := h.cartToken(w, r)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	res, err := h.store.Change(tok, ref, int(*req.Quantity))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.notify(res)
	h.writeCart(w, h.store.View(res.Cart), req.Sections)
}

type updateRequest struct {
	Updates    json.RawMessage   `json:"updates"`
	Note       *string           `json:"note"`
	Attributes map[string]string `json:"attributes"`
	Sections   sectionList       `json:"sections"`
}

func (req updateRequest) update() (store.Update, error) {
	u := store.Update{Note: req.Note, Attributes: req.Attributes}
	if len(req.Updates) == 0 || string(req.Updates) == "null" {
		return u, nil
	}
	var byKey map[string]flexInt
	if err := json.Unmarshal(req.Updates, &byKey); err == nil {
		u.Updates = make(map[string]int, len(byKey))
		for k, v := range byKey {
			u.Updates[k] = int(v)
		}
		return u, nil
	}
	var byIndex []flexInt
	if err := json.Unmarshal(req.Updates, &byIndex); err != nil {
		return u, fmt.Errorf("updates must be an object or a list")
	}
	for _, v := range byIndex {
		u.ByIndex = append(u.ByIndex, int(v))
	}
	return u, nil
}

// UpdateCart handles POST /cart/update.js.
func (h *Handler) UpdateCart(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if isForm(r) {
		if err := parseForm(r); err != nil {
			badRequest(w, err)
			return
		}
		if _, ok := r.Form["note"]; ok {
			note := r.FormValue("note")
			req.Note = &note
		}
		updates := map[string]string{}
		for k, v := range r.Form {
			if key, ok := strings.CutPrefix(k, "updates["); ok && strings.HasSuffix(key, "]") && len(v) > 0 {
				updates[strings.TrimSuffix(key, "]")] = v[0]
			}
		}
		if len(updates) > 0 {
			req.Updates, _ = json.Marshal(updates)
		}
		req.Sections = splitSections(r.FormValue("sections"))
	} else if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	u, err := req.update()
	if err != nil {
		badRequest(w, err)
		return
	}
	tok, err := h.cartToken(w, r)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	res, err := h.store.Update(tok, u)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.notify(res)
	h.writeCart(w, h.store.View(res.Cart), req.Sections)
}

// ClearCart handles POST /cart/clear.js.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sections sectionList `json:"sections"`
	}
	if !isForm(r) {
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, err)
			return
		}
	}
	tok, err := h.cartToken(w, r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	res, err := h.store.Clear(tok)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.notify(res)
	h.writeCart(w, h.store.View(res.Cart), req.Sections)
}
