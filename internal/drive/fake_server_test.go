// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

package drive

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/drivebackup/internal/config"
	"github.com/tomtom215/drivebackup/internal/settings"
)

const mib = 1024 * 1024

// fakeDrive implements the server side of the resumable upload protocol.
type fakeDrive struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	total        int64
	received     []byte
	puts         []int64 // start offset of every data PUT
	statusChecks int
	sessions     int
	lastMeta     sessionMetadata
	lastHeader   http.Header

	acceptLimit   int64 // bytes accepted per PUT; 0 accepts whole chunks
	sessionStatus int   // answer session creation with this status when set
	noLocation    bool  // omit the Location header on session creation
	failNext      int   // answer the next N data PUTs with failStatus
	failStatus    int
	moveSession   bool // hand out a new session URL on the first 308
	onPut         func()
	resourceID    string

	deleted      []string
	deleteStatus int
	quotaBody    string
}

func newFakeDrive(t *testing.T) *fakeDrive {
	t.Helper()
	f := &fakeDrive{t: t, resourceID: "file-123", deleteStatus: http.StatusNoContent}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDrive) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/upload":
		if r.URL.Query().Get("uploadType") != "resumable" {
			f.t.Errorf("uploadType = %q, want resumable", r.URL.Query().Get("uploadType"))
		}
		f.sessions++
		f.lastHeader = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&f.lastMeta); err != nil {
			f.t.Errorf("decode session metadata: %v", err)
		}
		f.total, _ = strconv.ParseInt(r.Header.Get("X-Upload-Content-Length"), 10, 64)
		f.received = nil
		if f.sessionStatus != 0 {
			w.WriteHeader(f.sessionStatus)
			_, _ = io.WriteString(w, `{"error":{"message":"The user's Drive storage quota has been exceeded."}}`)
			return
		}
		if !f.noLocation {
			w.Header().Set("Location", f.srv.URL+"/session/"+strconv.Itoa(f.sessions))
		}
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/session/"):
		f.handlePut(w, r)

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/files/"):
		f.deleted = append(f.deleted, strings.TrimPrefix(r.URL.Path, "/api/files/"))
		w.WriteHeader(f.deleteStatus)

	case r.Method == http.MethodGet && r.URL.Path == "/api/about":
		if r.URL.Query().Get("fields") != "storageQuota" {
			f.t.Errorf("fields = %q", r.URL.Query().Get("fields"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.quotaBody)

	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeDrive) handlePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		f.t.Errorf("read chunk: %v", err)
	}
	if f.onPut != nil {
		f.onPut()
	}

	contentRange := r.Header.Get("Content-Range")
	if strings.HasPrefix(contentRange, "bytes */") {
		f.statusChecks++
		if int64(len(f.received)) == f.total && f.total > 0 {
			f.created(w)
			return
		}
		f.progress(w)
		return
	}

	var start, end, total int64
	if _, err := fmt.Sscanf(contentRange, "bytes %d-%d/%d", &start, &end, &total); err != nil {
		f.t.Errorf("bad Content-Range %q: %v", contentRange, err)
	}
	f.puts = append(f.puts, start)

	if f.failNext > 0 {
		f.failNext--
		w.WriteHeader(f.failStatus)
		return
	}

	if start != int64(len(f.received)) {
		f.t.Errorf("chunk starts at %d, server holds %d bytes", start, len(f.received))
	}
	if end-start+1 != int64(len(body)) || total != f.total {
		f.t.Errorf("Content-Range %q does not match %d byte body of %d", contentRange, len(body), f.total)
	}

	accept := body
	if f.acceptLimit > 0 && int64(len(accept)) > f.acceptLimit {
		accept = accept[:f.acceptLimit]
	}
	f.received = append(f.received, accept...)

	if int64(len(f.received)) == f.total {
		f.created(w)
		return
	}
	if f.moveSession {
		f.moveSession = false
		w.Header().Set("Location", f.srv.URL+"/session/moved")
	}
	f.progress(w)
}

func (f *fakeDrive) progress(w http.ResponseWriter) {
	if n := len(f.received); n > 0 {
		w.Header().Set("Range", "bytes=0-"+strconv.Itoa(n-1))
	}
	w.WriteHeader(http.StatusPermanentRedirect)
}

func (f *fakeDrive) created(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = fmt.Fprintf(w, `{"id":%q,"name":"backup.tar.gz"}`, f.resourceID)
}

func (f *fakeDrive) putOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.puts...)
}

func (f *fakeDrive) driveConfig(chunkMiB float64) config.DriveConfig {
	return config.DriveConfig{
		FolderID:          "folder-1",
		UploadURL:         f.srv.URL + "/upload",
		APIURL:            f.srv.URL + "/api",
		ChunkSizeMiB:      chunkMiB,
		RequestTimeout:    5 * time.Second,
		MaxResumeAttempts: 5,
	}
}

func openTestStore(t *testing.T) *settings.Store {
	t.Helper()
	store, err := settings.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// writeArchive writes size bytes of patterned data and returns the path.
func writeArchive(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "Backup-abc.tar.gz")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeClock only moves when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
