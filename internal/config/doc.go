// Package config defines the persisted tunnel configuration, its
// validation rules, and the credential records used for secure serving.
//
// The configuration lives in a single YAML file under the user's config
// directory. Passwords are never stored; only their SHA-512 digests are,
// in the exact form the file server's auth flag expects.
package config
