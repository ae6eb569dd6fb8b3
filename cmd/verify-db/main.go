// verify-db checks database connectivity and the protocol schema without
// going through gorm. Useful when diagnosing deploy environments.
package main

import (
	"database/sql"
	"fmt"
	"log"

	"crosscall-backend/internal/config"

	_ "github.com/lib/pq"
)

func main() {
	fmt.Println("🔍 Verifying database connection and schema...")

	if err := config.LoadConfig(""); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	sqlDB, err := sql.Open("postgres", config.AppConfig.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	for _, table := range []string{"call_requests", "escrow_entries"} {
		var exists bool
		err := sqlDB.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil {
			log.Fatalf("Failed to check table %s: %v", table, err)
		}
		if !exists {
			fmt.Printf("❌ Table %s does not exist (run the server once to migrate)\n", table)
			continue
		}
		fmt.Printf("✅ Table %s exists\n", table)
	}

	// Identity hashes are 66 chars (0x + 64 hex); a narrower column would
	// silently truncate them.
	var size sql.NullInt64
	err = sqlDB.QueryRow(`
		SELECT character_maximum_length
		FROM information_schema.columns
		WHERE table_schema = 'public'
		AND table_name = 'call_requests'
		AND column_name = 'id'
	`).Scan(&size)
	if err == nil && size.Valid {
		if size.Int64 < 66 {
			fmt.Printf("❌ call_requests.id is VARCHAR(%d), need VARCHAR(66)\n", size.Int64)
		} else {
			fmt.Printf("✅ call_requests.id is VARCHAR(%d)\n", size.Int64)
		}
	}

	rows, err := sqlDB.Query(`SELECT status, COUNT(*) FROM call_requests GROUP BY status`)
	if err == nil {
		defer rows.Close()
		fmt.Println("📋 Requests by status:")
		for rows.Next() {
			var status string
			var count int64
			if err := rows.Scan(&status, &count); err == nil {
				fmt.Printf("   %-10s %d\n", status, count)
			}
		}
	}

	fmt.Println("✅ Verification complete")
}
