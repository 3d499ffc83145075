// Package main (cmd/httpserver) runs the remote state server.
//
// Blob and metadata stores are selected by URI. Several --blob-store flags
// mirror every write to all of them. Every flag can also be set through a
// TFSTATE_ environment variable.
//
// Example usage with local storage:
//
//	tfstate-server --listen-addr=0.0.0.0:8080 \
//	    --blob-store=file:///var/lib/tfstate/blobs \
//	    --metadata-store=bolt:///var/lib/tfstate/metadata.db \
//	    --auth-token=$TOKEN
//
// Example usage with S3 and PostgreSQL:
//
//	tfstate-server --blob-store='s3://tfstate-bucket/states?region=eu-west-1' \
//	    --metadata-store='postgres://tfstate@db:5432/tfstate?sslmode=require' \
//	    --credentials-file=/etc/tfstate/credentials.yaml \
//	    --enforce-lock \
//	    --tls-cert=/etc/tfstate/tls.crt --tls-key=/etc/tfstate/tls.key
//
// Credentials file entries hold argon2id hashes from "statectl users hash-password".
package main
