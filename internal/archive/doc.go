// Package archive copies expiring partitions to S3 before the partition
// manager drops them.
//
// Each partition becomes one object at
// {prefix}/{table}/{partition}/{uuid}.jsonl.zst holding one JSON document per
// row, zstd compressed. Object metadata records the partition range, the
// retention policy and its data classification. Uploads go through the
// CargoShip transporter when enabled and fall back to a plain PutObject.
package archive
