package db

// DimensionExpr returns a SQL expression extracting a JSON object key
// from column as text for the given dialect. The key is inlined, so
// callers must restrict it to [A-Za-z0-9_]+ beforehand.
func DimensionExpr(dialect, column, key string) string {
	switch dialect {
	case "postgres":
		return column + " ->> '" + key + "'"
	case "mysql":
		return "JSON_UNQUOTE(JSON_EXTRACT(" + column + ", '$." + key + "'))"
	default:
		return "json_extract(" + column + ", '$." + key + "')"
	}
}
