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

/*
Package sorting contains the column orderings used by
`ORDER BY` queries that are merged across partitions.


Overview

Sorting handles different sorting directions ('ASC' or 'DESC') for every
column of the sort key. There is no 'NULLS FIRST' / 'NULLS LAST' clause:
the position of null and missing values is fixed by the type order of
package value. Data types are ordered as follows:

* undefined (missing),
* null,
* false,
* true,
* numeric (precision does not matter),
* string,
* array,
* object.

A descending column reverses the whole order, so missing values come
last in a descending sort.


Tuples

A sort key is a tuple with one value per ORDER BY column. Tuples are
compared lexicographically; the first column that differs decides, with
its direction applied. Comparing tuples of different sizes is a
programming error and panics.
*/
package sorting
