// Package main (cmd/statectl) is the operator CLI of the state server.
//
// Example usage:
//
//	export TFSTATE_SERVER=https://tfstate.example.com TFSTATE_AUTH_TOKEN=...
//
//	statectl states list --project infra --exclude-backups
//	statectl states get infra prod/network --backup 1 > previous.tfstate
//	statectl states set infra prod/network -f terraform.tfstate
//	statectl lock acquire infra prod/network --info "manual fix"
//	statectl lock release infra prod/network --lock-id <ID>
//	statectl config set 5
//	statectl users hash-password < password.txt
package main
