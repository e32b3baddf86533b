// Package mockapi serves the /api/mock/ training namespace. It is the only
// relative prefix the default egress policy allows, so the console can be
// exercised without reaching the internet.
package mockapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// Prefix is where the mock API is mounted.
const Prefix = "/api/mock"

const (
	maxEchoBytes = 1 << 20
	maxSlow      = 30 * time.Second
	redirectTo   = "https://example.invalid/"
)

type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	City  string `json:"city"`
}

var users = []User{
	{ID: 1, Name: "Leanne Graham", Email: "leanne@example.com", City: "Gwenborough"},
	{ID: 2, Name: "Ervin Howell", Email: "ervin@example.com", City: "Wisokyburgh"},
	{ID: 3, Name: "Clementine Bauch", Email: "clementine@example.com", City: "McKenziehaven"},
}

// Register mounts the mock routes on r under Prefix.
func Register(r *mux.Router) {
	sub := r.PathPrefix(Prefix).Subrouter()
	sub.HandleFunc("/users", listUsers).Methods(http.MethodGet)
	sub.HandleFunc("/users/{id}", getUser).Methods(http.MethodGet)
	sub.HandleFunc("/echo", echo).Methods(http.MethodPost, http.MethodPut, http.MethodPatch)
	sub.HandleFunc("/redirect", redirect).Methods(http.MethodGet)
	sub.HandleFunc("/hadith", hadith).Methods(http.MethodGet)
	sub.HandleFunc("/slow", slow).Methods(http.MethodGet)
}

// Handler returns a standalone router serving only the mock API.
func Handler() http.Handler {
	r := mux.NewRouter()
	Register(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func listUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, users)
}

func getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id must be a number"})
		return
	}
	for _, u := range users {
		if u.ID == id {
			writeJSON(w, http.StatusOK, u)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
}

// echo returns the request body byte-for-byte.
func echo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEchoBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("X-Echo-Method", r.Method)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func redirect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Location", redirectTo)
	w.WriteHeader(http.StatusFound)
}

func hadith(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	result := HadithFixture
	if q == "" {
		result = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ahadith": map[string]any{"result": result},
		"metadata": map[string]any{
			"length": strings.Count(result, `class="hadith"`),
			"query":  q,
		},
	})
}

func slow(w http.ResponseWriter, r *http.Request) {
	ms, _ := strconv.Atoi(r.URL.Query().Get("ms"))
	d := time.Duration(ms) * time.Millisecond
	if d < 0 {
		d = 0
	}
	if d > maxSlow {
		d = maxSlow
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		writeJSON(w, http.StatusOK, map[string]int64{"sleptMs": d.Milliseconds()})
	case <-r.Context().Done():
	}
}

// HadithFixture mirrors the embedded-HTML shape returned by the dorar.net
// search API, including a script element that must never survive
// sanitization.
const HadithFixture = `<div class="hadith">إنما الأعمال بالنيات، وإنما لكل امرئ ما نوى</div>` +
	`<div class="hadith-info">` +
	`<span class="info-subtitle">الراوي:</span> عمر بن الخطاب ` +
	`<span class="info-subtitle">المحدث:</span> البخاري ` +
	`<span class="info-subtitle">المصدر:</span> صحيح البخاري ` +
	`<span class="info-subtitle">الصفحة أو الرقم:</span> 1 ` +
	`<span class="info-subtitle">خلاصة حكم المحدث:</span> <span>صحيح</span>` +
	`</div>` +
	`<script>alert(1)</script>` +
	`<div class="hadith">الدين النصيحة</div>` +
	`<div class="hadith-info">` +
	`<span class="info-subtitle">الرّاوي :</span> تميم الداري ` +
	`<span class="info-subtitle">المُحدِّث:</span> مسلم ` +
	`<span class="info-subtitle">المصدر:</span> صحيح مسلم ` +
	`<span class="info-subtitle">الصفحة أو الرقم:</span> 55 ` +
	`<span class="info-subtitle">خلاصة حكم المحدث:</span> صحيح` +
	`</div>`
