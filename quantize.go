package geodb

import "math"

// Coordinates are quantized to a 2^20-step grid across each axis, giving a
// resolution of 180/2^20 degrees latitude and 360/2^20 degrees longitude.
const quantSteps = 1 << 20

func quantizeLat(deg float64) uint32 {
	return uint32(math.Round((deg+90)/180*quantSteps)) & 0xFFFFF
}

func quantizeLon(deg float64) uint32 {
	return uint32(math.Round((deg+180)/360*quantSteps)) & 0xFFFFF
}

func unquantizeLat(q uint32) float64 {
	return float64(q)/quantSteps*180 - 90
}

func unquantizeLon(q uint32) float64 {
	return float64(q)/quantSteps*360 - 180
}

// dedupeIndex keeps at most one CityRecord per quantized coordinate pair.
// Collisions resolve toward the strictly greater population; ties keep the
// first-seen record. Surviving records stay in first-seen slot order so the
// downstream index allocation is deterministic.
type dedupeIndex struct {
	records []*CityRecord
	byCoord map[uint64]int // coordKey -> slot in records
}

func newDedupeIndex() *dedupeIndex {
	return &dedupeIndex{
		byCoord: make(map[uint64]int, 1<<16),
	}
}

// insert adds rec, displacing an existing record at the same quantized
// coordinates only when rec's population is strictly greater. Reports
// whether rec survived.
func (d *dedupeIndex) insert(rec *CityRecord) bool {
	key := rec.coordKey()
	slot, ok := d.byCoord[key]
	if !ok {
		d.byCoord[key] = len(d.records)
		d.records = append(d.records, rec)
		return true
	}
	if rec.Population > d.records[slot].Population {
		d.records[slot] = rec
		return true
	}
	return false
}

// all returns the surviving records in first-seen slot order.
func (d *dedupeIndex) all() []*CityRecord {
	return d.records
}

func (d *dedupeIndex) count() int {
	return len(d.records)
}
