package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts a tailsql console and a backup download under
// /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://flightlog.db", db.DB, &tailsql.DBOptions{
		Label: "Flight log",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the flight log", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("flightlog-backup-%d.db", time.Now().UnixNano()))
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				logf("failed to remove backup file: %v", err)
			}
		}()

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer backupFile.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
		w.Header().Set("Content-Type", "application/gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			logf("backup download: %v", err)
		}
	}))
	return nil
}
