// Package geoip resolves server addresses to ISO country codes using a
// MaxMind format database. The directory source usually carries a country
// already; this only fills the gaps, so a missing database just disables
// the lookup.
package geoip

import (
	"errors"
	"net"
	"net/netip"

	"github.com/oschwald/maxminddb-golang/v2"
)

var (
	ErrInvalidIP = errors.New("invalid ip")
	ErrLookup    = errors.New("error trying to lookup address")
	ErrOpen      = errors.New("failed to open geoip database")
)

type Record struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
}

// Resolver wraps a reader over a country database. A nil Resolver is valid
// and resolves everything to "".
type Resolver struct {
	db *maxminddb.Reader
}

// Open loads the database at path. An empty path returns a nil Resolver.
func Open(path string) (*Resolver, error) {
	if path == "" {
		return nil, nil
	}

	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, errors.Join(err, ErrOpen)
	}

	return &Resolver{db: reader}, nil
}

func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}

	return r.db.Close()
}

// Country returns the ISO code for the address, or "" when unknown.
func (r *Resolver) Country(address string) string {
	if r == nil {
		return ""
	}

	record, err := r.lookup(address)
	if err != nil {
		return ""
	}

	return record.Country.ISOCode
}

func (r *Resolver) lookup(address string) (Record, error) {
	var record Record

	ip, err := netip.ParseAddr(address)
	if err != nil {
		ips, errHost := net.LookupHost(address)
		if errHost != nil {
			return record, errors.Join(errHost, ErrInvalidIP)
		}

		ip, err = netip.ParseAddr(ips[0])
		if err != nil {
			return record, errors.Join(err, ErrInvalidIP)
		}
	}

	if err = r.db.Lookup(ip).Decode(&record); err != nil {
		return record, errors.Join(err, ErrLookup)
	}

	return record, nil
}
