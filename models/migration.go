package models

import (
	"log"

	"bitbucket.org/mmdatafocus/doctemplates_backend/config"
)

func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&TemplateVersion{},
		&AuditEvent{},
		&TemplateEventRecord{},
	)
	if err != nil {
		log.Fatalf("failed to migrate tables: %v", err)
	}
}
