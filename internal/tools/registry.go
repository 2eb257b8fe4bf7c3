package tools

import (
	"github.com/rs/zerolog"

	"github.com/jojopeligroso/MyCastle/internal/mcp"
	"github.com/jojopeligroso/MyCastle/internal/store"
)

// BuildHost assembles the six domain servers into a single host.
func BuildHost(db store.Store, version string, logger zerolog.Logger) (*mcp.Host, error) {
	host := mcp.NewHost("mycastle-host", version, logger)

	constructors := []func(store.Store, zerolog.Logger) (*mcp.Server, error){
		NewFinanceServer,
		NewAcademicServer,
		NewAttendanceServer,
		NewStudentServicesServer,
		NewOpsServer,
		NewStudentServer,
	}
	for _, build := range constructors {
		srv, err := build(db, logger)
		if err != nil {
			return nil, err
		}
		if err := host.RegisterServer(srv); err != nil {
			return nil, err
		}
	}
	return host, nil
}
