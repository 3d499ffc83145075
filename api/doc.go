/*
Package api defines the HTTP contract of the state backend: route layout,
query parameters, response bodies and the server configuration shared by the
binaries.

The routes follow the HTTP backend protocol of Terraform and OpenTofu, so a
state client can be pointed at the service with:

	terraform {
	  backend "http" {
	    address        = "https://tfstate.example.com/api/v1/states/infra/prod"
	    lock_address   = "https://tfstate.example.com/api/v1/lock/infra/prod"
	    unlock_address = "https://tfstate.example.com/api/v1/lock/infra/prod"
	    lock_method    = "LOCK"
	    unlock_method  = "UNLOCK"
	  }
	}

# Routes

  - GET /api/v1/states - list storage keys
  - GET|POST|DELETE /api/v1/states/{project}/{path...} - current state object
  - POST|LOCK /api/v1/lock/{project}/{path...} - acquire a lock
  - DELETE|UNLOCK /api/v1/lock/{project}/{path...} - release a lock
  - GET /api/v1/lock/{project}/{path...} - inspect a lock
  - GET|POST /api/v1/config - backup depth

The clients subpackage implements a Go client for these routes.
*/
package api
