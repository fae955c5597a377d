package dbx

// RowConvertibleEntity - entity that lays out its own COPY row. ToRow must return the values of its
// `db` tagged fields in declaration order, the column order DeriveColumnNamesFromTags produces.
// Entities without ToRow are converted through their tags by StructsToRows.
type RowConvertibleEntity interface {
	ToRow() []any
}
