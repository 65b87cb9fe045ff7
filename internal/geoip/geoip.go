package geoip

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Info is the location data known for a source IP.
type Info struct {
	Country string `json:"country,omitempty" xml:"country,omitempty"`
	ASN     uint   `json:"asn,omitempty" xml:"asn,omitempty"`
	ASOrg   string `json:"as_org,omitempty" xml:"as_org,omitempty"`
}

// Empty reports whether no lookup produced any data.
func (i Info) Empty() bool {
	return i == Info{}
}

// Lookup answers country and ASN queries from MaxMind databases. Either
// database may be missing, its fields then stay empty.
type Lookup struct {
	country *geoip2.Reader
	asn     *geoip2.Reader
}

// Open loads the given mmdb files. Empty paths are skipped.
func Open(countryDB, asnDB string) (*Lookup, error) {
	l := &Lookup{}
	if countryDB != "" {
		r, err := geoip2.Open(countryDB)
		if err != nil {
			return nil, fmt.Errorf("could not open country database: %w", err)
		}
		l.country = r
	}
	if asnDB != "" {
		r, err := geoip2.Open(asnDB)
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("could not open asn database: %w", err)
		}
		l.asn = r
	}
	return l, nil
}

// Enabled reports whether at least one database is loaded.
func (l *Lookup) Enabled() bool {
	return l != nil && (l.country != nil || l.asn != nil)
}

// Lookup returns what the databases know about ipAddress. Invalid addresses
// and addresses missing from the databases yield an empty Info.
func (l *Lookup) Lookup(ipAddress string) Info {
	var info Info
	if !l.Enabled() {
		return info
	}
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return info
	}
	if l.country != nil {
		if record, err := l.country.Country(ip); err == nil {
			info.Country = record.Country.IsoCode
		}
	}
	if l.asn != nil {
		if record, err := l.asn.ASN(ip); err == nil {
			info.ASN = record.AutonomousSystemNumber
			info.ASOrg = record.AutonomousSystemOrganization
		}
	}
	return info
}

func (l *Lookup) Close() error {
	if l == nil {
		return nil
	}
	var errs []error
	if l.country != nil {
		errs = append(errs, l.country.Close())
	}
	if l.asn != nil {
		errs = append(errs, l.asn.Close())
	}
	return errors.Join(errs...)
}
