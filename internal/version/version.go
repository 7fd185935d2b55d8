package version

// Version is the current version of mssql-lake-migrate.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "1.4.0"

// Name is the application name.
const Name = "mssql-lake-migrate"

// Description is a short description of the application.
const Description = "Watermark-driven SQL Server to data lake migration tool"
