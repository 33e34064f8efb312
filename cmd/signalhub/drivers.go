package main

// SQL drivers for the sql storage backend: postgres when DATABASE_URL is
// set, sqlite under DATA_DIR otherwise.
import (
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)
