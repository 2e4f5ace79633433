// Package testbackend runs an in-process detection backend for tests.
package testbackend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shirasu0801/pixeon/pkg/types"
)

var secret = []byte("test-backend-secret")

type account struct {
	user     types.User
	password string
}

// Server is a fake backend speaking the same HTTP contract as the real one
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	accounts   map[string]*account
	history    map[int64]ownedRecord
	nextUserID int64
	nextRecID  int64
	issued     map[string]string
	uploads    map[string]upload

	// Detections returned by /api/detect
	Detections []types.DetectionBox
	// TokenTTL is the lifetime of issued tokens
	TokenTTL time.Duration
}

type upload struct {
	contentType string
	data        []byte
}

type ownedRecord struct {
	owner  string
	record types.HistoryRecord
}

// New starts a backend. Call Close when done.
func New() *Server {
	s := &Server{
		accounts: map[string]*account{},
		history:  map[int64]ownedRecord{},
		issued:   map[string]string{},
		uploads:  map[string]upload{},
		TokenTTL: 30 * time.Minute,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/me", s.authenticated(s.handleMe)).Methods(http.MethodGet)
	r.HandleFunc("/api/detect", s.authenticated(s.handleDetect)).Methods(http.MethodPost)
	r.HandleFunc("/api/history", s.authenticated(s.handleListHistory)).Methods(http.MethodGet)
	r.HandleFunc("/api/history/{id:[0-9]+}", s.authenticated(s.handleGetHistory)).Methods(http.MethodGet)
	r.HandleFunc("/api/history/{id:[0-9]+}", s.authenticated(s.handleDeleteHistory)).Methods(http.MethodDelete)
	r.HandleFunc("/uploads/{name}", s.handleUpload).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	return s
}

// AddUser creates an account directly
func (s *Server) AddUser(username, email, password string) types.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, email, password)
}

func (s *Server) addUserLocked(username, email, password string) types.User {
	s.nextUserID++
	u := types.User{ID: s.nextUserID, Username: username, Email: email, CreatedAt: now()}
	s.accounts[username] = &account{user: u, password: password}
	return u
}

// TokenOwner returns the username a token was issued to
func (s *Server) TokenOwner(token string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued[token]
}

// IssueToken mints a token for username with the given lifetime
func (s *Server) IssueToken(username string, ttl time.Duration) string {
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"exp": time.Now().Add(ttl).Unix(),
		"jti": uuid.NewString(),
	}).SignedString(secret)

	s.mu.Lock()
	s.issued[token] = username
	s.mu.Unlock()
	return token
}

type ctxHandler func(w http.ResponseWriter, r *http.Request, username string)

func (s *Server) authenticated(next ctxHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields := strings.Fields(r.Header.Get("Authorization"))
		if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(fields[1], claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		sub, _ := claims.GetSubject()

		s.mu.Lock()
		_, ok := s.accounts[sub]
		s.mu.Unlock()
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next(w, r, sub)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body", "email"}, "msg": "value is not a valid email address"}},
		})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Username]; exists {
		writeDetail(w, http.StatusBadRequest, "Username already registered")
		return
	}
	u := s.addUserLocked(req.Username, req.Email, req.Password)
	writeJSON(w, http.StatusOK, userJSON(u))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid form")
		return
	}
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")

	s.mu.Lock()
	acc, ok := s.accounts[username]
	s.mu.Unlock()
	if !ok || acc.password != password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	writeJSON(w, http.StatusOK, types.TokenResponse{AccessToken: s.IssueToken(username, s.TokenTTL), TokenType: "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, username string) {
	s.mu.Lock()
	u := s.accounts[username].user
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, userJSON(u))
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request, username string) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "No file uploaded")
		return
	}
	defer file.Close()

	ct := header.Header.Get("Content-Type")
	if ct != "image/jpeg" && ct != "image/png" && ct != "image/jpg" {
		writeDetail(w, http.StatusBadRequest, "Please upload a JPG or PNG image")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to read upload")
		return
	}

	s.mu.Lock()
	s.nextRecID++
	id := s.nextRecID
	dets := append([]types.DetectionBox{}, s.Detections...)
	payload, _ := json.Marshal(types.StoredResults{Detections: dets, ProcessingTime: 0.12})
	imagePath := "/uploads/" + strconv.FormatInt(id, 10) + "_" + filepath.Base(header.Filename)
	s.uploads[imagePath] = upload{contentType: ct, data: data}
	s.history[id] = ownedRecord{owner: username, record: types.HistoryRecord{
		ID: id, ImagePath: imagePath, DetectionResults: string(payload), CreatedAt: now(),
	}}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, types.DetectionResult{ID: &id, ImageURL: imagePath, Detections: dets, ProcessingTime: 0.12})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	up, ok := s.uploads[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", up.contentType)
	_, _ = w.Write(up.data)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request, username string) {
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		limit = 20
	}

	s.mu.Lock()
	records := make([]types.HistoryRecord, 0)
	for _, or := range s.history {
		if or.owner == username {
			records = append(records, or.record)
		}
	}
	s.mu.Unlock()

	sort.Slice(records, func(i, j int) bool { return records[i].ID > records[j].ID })
	if skip > len(records) {
		skip = len(records)
	}
	records = records[skip:]
	if limit < len(records) {
		records = records[:limit]
	}
	out := make([]recordBody, 0, len(records))
	for _, rec := range records {
		out = append(out, recordJSON(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(r *http.Request, username string) (int64, types.HistoryRecord, bool) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	or, ok := s.history[id]
	if !ok || or.owner != username {
		return id, types.HistoryRecord{}, false
	}
	return id, or.record, true
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request, username string) {
	_, rec, ok := s.lookup(r, username)
	if !ok {
		writeDetail(w, http.StatusNotFound, "History not found")
		return
	}
	writeJSON(w, http.StatusOK, recordJSON(rec))
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request, username string) {
	id, _, ok := s.lookup(r, username)
	if !ok {
		writeDetail(w, http.StatusNotFound, "History not found")
		return
	}
	s.mu.Lock()
	delete(s.history, id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// SQLite hands timestamps back without a zone, so the real backend does too
const naiveLayout = "2006-01-02T15:04:05.999999"

func now() types.Timestamp {
	return types.Timestamp{Time: time.Now().UTC().Truncate(time.Microsecond)}
}

type userBody struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

func userJSON(u types.User) userBody {
	return userBody{ID: u.ID, Username: u.Username, Email: u.Email, CreatedAt: u.CreatedAt.Format(naiveLayout)}
}

type recordBody struct {
	ID               int64  `json:"id"`
	ImagePath        string `json:"image_path"`
	DetectionResults string `json:"detection_results"`
	CreatedAt        string `json:"created_at"`
}

func recordJSON(r types.HistoryRecord) recordBody {
	return recordBody{ID: r.ID, ImagePath: r.ImagePath, DetectionResults: r.DetectionResults, CreatedAt: r.CreatedAt.Format(naiveLayout)}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Println("testbackend: encode failed:", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
