// Package installer implements the gRPC transport for the boot image installer.
//
// The service descriptor is declared by hand and every message is a
// structpb.Struct, so no generated code is needed on either side. The server
// calls into a provided business-service interface.
package installer
