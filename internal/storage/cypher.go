package storage

// Schema statements run once on connect. Each runs in its own transaction
// because Neo4j does not mix schema and data writes.
var neo4jSchema = []string{
	`CREATE CONSTRAINT entity_identity IF NOT EXISTS
	 FOR (e:Entity) REQUIRE (e.project, e.name) IS UNIQUE`,
	`CREATE INDEX entity_project IF NOT EXISTS FOR (e:Entity) ON (e.project)`,
	`CREATE INDEX entity_updated IF NOT EXISTS FOR (e:Entity) ON (e.updated_at)`,
	`CREATE CONSTRAINT migration_version IF NOT EXISTS
	 FOR (m:Migration) REQUIRE (m.project, m.version) IS UNIQUE`,
	`CREATE CONSTRAINT migration_counter IF NOT EXISTS
	 FOR (c:MigrationCounter) REQUIRE c.project IS UNIQUE`,
}

const cypherCreateEntity = `
MERGE (e:Entity {name: $name, project: $project})
ON CREATE SET
    e.id = $id,
    e.type = $type,
    e.observations = $observations,
    e.created_at = $now,
    e.updated_at = $now
ON MATCH SET
    e.type = $type,
    e.observations = coalesce(e.observations, []) + $observations,
    e.updated_at = $now
SET e += $properties
RETURN e{.*} AS entity`

const cypherAddObservations = `
MATCH (e:Entity {name: $name, project: $project})
SET e.observations = coalesce(e.observations, []) + $observations,
    e.updated_at = $now
RETURN e{.*} AS entity`

const cypherDeleteEntity = `
MATCH (e:Entity {name: $name, project: $project})
DETACH DELETE e
RETURN count(*) AS deleted`

const cypherEndpointsExist = `
OPTIONAL MATCH (a:Entity {name: $source, project: $project})
OPTIONAL MATCH (b:Entity {name: $target, project: $project})
RETURN a IS NOT NULL AS source_exists, b IS NOT NULL AS target_exists`

// %s is a sanitised relationship type.
const cypherCreateRelationship = "\n" +
	"MATCH (a:Entity {name: $source, project: $project})\n" +
	"MATCH (b:Entity {name: $target, project: $project})\n" +
	"MERGE (a)-[r:`%s`]->(b)\n" +
	"ON CREATE SET r.project = $project, r.created_at = $now\n" +
	"SET r += $properties\n" +
	"RETURN a.name AS source, b.name AS target, type(r) AS type, properties(r) AS properties"

// %s is a sanitised relationship type.
const cypherDeleteRelationship = "\n" +
	"MATCH (a:Entity {name: $source, project: $project})-[r:`%s`]->(b:Entity {name: $target, project: $project})\n" +
	"DELETE r\n" +
	"RETURN count(*) AS deleted"

const cypherGetEntity = `
MATCH (e:Entity {name: $name, project: $project})
OPTIONAL MATCH (e)-[r]->(t:Entity {project: $project})
WITH e, collect(CASE WHEN r IS NULL THEN NULL ELSE
    {source: e.name, target: t.name, type: type(r), properties: properties(r)} END) AS outgoing
OPTIONAL MATCH (s:Entity {project: $project})-[ri]->(e)
WITH e, outgoing, collect(CASE WHEN ri IS NULL THEN NULL ELSE
    {source: s.name, target: e.name, type: type(ri), properties: properties(ri)} END) AS incoming
RETURN e{.*} AS entity, outgoing, incoming`

const cypherSearch = `
MATCH (e:Entity)
WHERE $project = '' OR e.project = $project
WITH e,
     CASE WHEN $case_sensitive THEN $query ELSE toLower($query) END AS needle,
     CASE WHEN $case_sensitive THEN e.name ELSE toLower(e.name) END AS name
WITH e, needle, name CONTAINS needle AS name_hit
WHERE name_hit
   OR any(obs IN coalesce(e.observations, [])
          WHERE (CASE WHEN $case_sensitive THEN obs ELSE toLower(obs) END) CONTAINS needle)
RETURN e{.*} AS entity
ORDER BY CASE WHEN name_hit THEN 0 ELSE 1 END, e.updated_at DESC, e.name ASC
LIMIT $limit`

const cypherProjectEntities = `
MATCH (e:Entity {project: $project})
RETURN e{.*} AS entity
ORDER BY e.name`

const cypherProjectRelationships = `
MATCH (a:Entity {project: $project})-[r]->(b:Entity {project: $project})
RETURN a.name AS source, b.name AS target, type(r) AS type, properties(r) AS properties
ORDER BY source, type, target`

const cypherListProjects = `
MATCH (e:Entity) RETURN DISTINCT e.project AS project
UNION
MATCH (m:Migration) RETURN DISTINCT m.project AS project`

// The counter SET takes a write lock on the project's counter node, which
// serialises concurrent inserts for one project. The max() check keeps the
// counter ahead of migrations written before the counter existed.
const cypherInsertMigration = `
MERGE (c:MigrationCounter {project: $project})
ON CREATE SET c.version = 0
SET c.version = c.version + 1
WITH c
OPTIONAL MATCH (existing:Migration {project: $project})
WITH c, max(existing.version) AS max_version
SET c.version = CASE
    WHEN max_version IS NOT NULL AND max_version >= c.version THEN max_version + 1
    ELSE c.version END
CREATE (m:Migration {
    id: $id,
    project: $project,
    version: c.version,
    label: $label,
    description: $description,
    cypher_up: $cypher_up,
    cypher_down: $cypher_down,
    status: 'pending',
    created_at: $now
})
RETURN m{.*} AS migration`

const cypherListMigrations = `
MATCH (m:Migration {project: $project})
RETURN m{.*} AS migration
ORDER BY m.version`

const cypherGetMigration = `
MATCH (m:Migration {project: $project, version: $version})
RETURN m{.*} AS migration`

const cypherMarkMigrationApplied = `
MATCH (m:Migration {project: $project, version: $version})
WHERE m.status = 'pending'
SET m.status = 'applied', m.applied_at = $now
RETURN m{.*} AS migration`
