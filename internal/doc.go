// Package internal holds crypto and encoding helpers shared by the otpkit
// root package. Nothing here is part of the public API.
package internal
