package model

// Property is the merged result shape returned by the search and
// lookup endpoints. A property is either backed by a parcel row or
// synthesized from a bare address point that has no parcel within
// tolerance. The Key field is stable across calls: the parcel key
// when one is known, otherwise "ap:<address_point_id>".
//
// Fields:
//  Key          – stable de-duplication key.
//  ParcelKey    – county parcel identifier, empty for address-point-only rows.
//  Address      – situs/mailing address label.
//  OwnerName    – owner per the parcel table, empty when unknown.
//  MarketValue  – appraised market value, nil when unknown.
//  ZoneCode     – zoning district code when available.
//  FloodZone    – flood zone designation when available.
//  Longitude    – representative point longitude (WGS84).
//  Latitude     – representative point latitude (WGS84).
//  Source       – "parcel" or "address_point".
type Property struct {
	Key         string   `db:"key" json:"key"`
	ParcelKey   string   `db:"parcel_key" json:"parcelKey,omitempty"`
	Address     string   `db:"address" json:"address"`
	OwnerName   string   `db:"owner_name" json:"ownerName,omitempty"`
	MarketValue *float64 `db:"market_value" json:"marketValue,omitempty"`
	ZoneCode    string   `db:"zone_code" json:"zoneCode,omitempty"`
	FloodZone   string   `db:"flood_zone" json:"floodZone,omitempty"`
	Longitude   float64  `db:"longitude" json:"longitude"`
	Latitude    float64  `db:"latitude" json:"latitude"`
	Source      string   `db:"source" json:"source"`
}

// Property sources.
const (
	SourceParcel       = "parcel"
	SourceAddressPoint = "address_point"
)
