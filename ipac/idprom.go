// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ipac

import (
	"errors"
	"fmt"
)

var (
	ErrBadID = errors.New("ipac: invalid ID PROM")
)

// ID PROM layout. Data bytes sit at odd addresses.
const (
	idASCII        = 0x01 // "IPAC" on 0x01, 0x03, 0x05, 0x07
	idManufacturer = 0x09
	idModel        = 0x0b
	idRevision     = 0x0d
	idSize         = 0x0e
)

// IDProm is the identification PROM of an IP module.
type IDProm struct {
	Manufacturer uint8
	Model        uint8
	Revision     uint8
}

// ReadID reads the identification PROM of the module in slot.
func ReadID(slot Slot) (IDProm, error) {
	var id IDProm
	if slot.ID == nil {
		return id, fmt.Errorf("%w: no ID space", ErrBadID)
	}

	buf := make([]byte, idSize)
	_, err := slot.ID.ReadAt(buf, 0)
	if err != nil {
		return id, fmt.Errorf("ipac: could not read ID PROM: %w", err)
	}

	for i, c := range []byte("IPAC") {
		if v := buf[idASCII+2*i]; v != c {
			return id, fmt.Errorf("%w: bad signature byte %d (got=0x%x, want=0x%x)", ErrBadID, i, v, c)
		}
	}

	id.Manufacturer = buf[idManufacturer]
	id.Model = buf[idModel]
	id.Revision = buf[idRevision]
	return id, nil
}

// Check returns an error wrapping ErrBadID when the PROM does not
// identify the expected module.
func (id IDProm) Check(manufacturer, model uint8) error {
	if id.Manufacturer != manufacturer || id.Model != model {
		return fmt.Errorf(
			"%w: manufacturer and/or model incorrect = %x/%x, should be %x/%x",
			ErrBadID, id.Manufacturer, id.Model, manufacturer, model,
		)
	}
	return nil
}

// EncodeID returns the content of an ID PROM for the provided identifiers.
func EncodeID(id IDProm) []byte {
	buf := make([]byte, 0x40)
	for i, c := range []byte("IPAC") {
		buf[idASCII+2*i] = c
	}
	buf[idManufacturer] = id.Manufacturer
	buf[idModel] = id.Model
	buf[idRevision] = id.Revision
	return buf
}
