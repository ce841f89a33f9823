// seed carga variantes de producto desde un CSV (id,product_id,price,stock) a PostgreSQL.
//
// Uso: go run ./cmd/seed [ruta/variants.csv]
// Por defecto busca variants.csv en el directorio actual. Las variantes existentes se omiten.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jhoicas/catalog-api/internal/domain"
	"github.com/jhoicas/catalog-api/internal/domain/entity"
	"github.com/jhoicas/catalog-api/internal/infrastructure/postgres"
	"github.com/jhoicas/catalog-api/pkg/config"
	"github.com/jhoicas/catalog-api/pkg/logger"
)

func main() {
	csvPath := "variants.csv"
	if len(os.Args) > 1 {
		csvPath = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cargar configuración: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, Service: "seed"})

	f, err := os.Open(csvPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", csvPath).Msg("abrir CSV")
	}
	defer f.Close()

	variants, err := readVariants(f)
	if err != nil {
		log.Fatal().Err(err).Msg("leer CSV")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DB, "catalog-seed")
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("crear esquema")
	}

	repo := postgres.NewVariantRepository(pool)
	created, skipped := 0, 0
	for _, v := range variants {
		if err := repo.Create(ctx, v); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				skipped++
				continue
			}
			log.Fatal().Err(err).Str("variant_id", v.ID).Msg("insertar variante")
		}
		created++
	}
	log.Info().Int("created", created).Int("skipped", skipped).Msg("carga finalizada")
}

// readVariants interpreta filas id,product_id,price,stock. Una cabecera que empiece por "id" se omite.
func readVariants(r io.Reader) ([]*entity.Variant, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true

	now := time.Now().UTC()
	var out []*entity.Variant
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "id") {
			continue
		}
		price, err := strconv.ParseInt(strings.TrimSpace(rec[2]), 10, 64)
		if err != nil || price < 0 {
			return nil, fmt.Errorf("línea %d: price inválido %q", line, rec[2])
		}
		stock, err := strconv.ParseInt(strings.TrimSpace(rec[3]), 10, 64)
		if err != nil || stock < 0 {
			return nil, fmt.Errorf("línea %d: stock inválido %q", line, rec[3])
		}
		out = append(out, &entity.Variant{
			ID:        strings.TrimSpace(rec[0]),
			ProductID: strings.TrimSpace(rec[1]),
			Price:     price,
			Stock:     stock,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return out, nil
}
