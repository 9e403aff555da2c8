// Package migrations embeds the providerstore schema for golang-migrate's
// iofs source driver, grounded on the teacher's cmd/migrate/main.go, which
// reads its migration set from an embedded filesystem the same way.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
