// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package sorting

import (
	"fmt"
	"strings"
)

// Direction encodes a sorting direction of column (SQL: ASC/DESC)
type Direction int

const (
	Ascending  Direction = 1  // Sort ascending
	Descending Direction = -1 // Sort descending
)

func (d Direction) String() string {
	switch d {
	case Ascending:
		return "ASC"
	case Descending:
		return "DESC"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection parses "ASC" or "DESC"
// (case-insensitive). The empty string
// means ascending.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ASC", "ASCENDING":
		return Ascending, nil
	case "DESC", "DESCENDING":
		return Descending, nil
	}
	return 0, fmt.Errorf("sorting: unknown direction %q", s)
}

// Column is one ORDER BY column: the
// expression that produces the sort key
// (for example "c.name") and its direction.
type Column struct {
	Expr      string
	Direction Direction
}

func (c Column) String() string { return c.Expr + " " + c.Direction.String() }

// Directions returns the direction of each column.
func Directions(cols []Column) []Direction {
	out := make([]Direction, len(cols))
	for i := range cols {
		out[i] = cols[i].Direction
	}
	return out
}
