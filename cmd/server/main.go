// Command notes-server serves the versioned notes API.
//
// Usage:
//
//	notes-server [--addr :8000] [--no-s3] [--env-file .env]
//	notes-server migrate
//	notes-server backup [latest]
//	notes-server version
package main

func main() {
	Execute()
}
