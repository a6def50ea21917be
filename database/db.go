/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/Munozca230/order-processing-system/config"
)

var (
	instance *Datasource
	once     sync.Once
)

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection returns the process-wide datasource, connecting on first use.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		// allow a later call to retry the connection
		once = sync.Once{}
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens a pooled connection and verifies it with a ping.
func ConnectDB(cfg config.DataSourceConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Dns)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Printf("database Connection error ❌: %v", err)
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (d Datasource) Ping(ctx context.Context) error {
	return d.Conn.PingContext(ctx)
}
